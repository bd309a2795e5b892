package stack

import (
	"fmt"
	"strings"
)

// Fixed provider-facing names
const (
	CSVCrawlerName     = "transaction_csv_crawler"
	ParquetCrawlerName = "transaction_parquet_crawler"
	UploadName         = "deploy-test-files"
)

// BucketName derives the globally unique bucket name from the account
func BucketName(accountID, suffix string) string {
	return fmt.Sprintf("%s-%s", accountID, suffix)
}

// CrawlerPrefix is the key prefix holding raw transactions of a format
func CrawlerPrefix(format FileFormat) string {
	return fmt.Sprintf("raw/%s/transactions/", format)
}

// CrawlerPath is the S3 URL a format's crawler targets
func CrawlerPath(bucket string, format FileFormat) string {
	return fmt.Sprintf("s3://%s/%s", bucket, CrawlerPrefix(format))
}

// CrawlerName is the Glue crawler name for a format
func CrawlerName(format FileFormat) string {
	switch format {
	case FormatCSV:
		return CSVCrawlerName
	case FormatParquet:
		return ParquetCrawlerName
	}
	return fmt.Sprintf("transaction_%s_crawler", format)
}

func crawlerNodeID(format FileFormat) string {
	switch format {
	case FormatCSV:
		return NodeCSVCrawler
	case FormatParquet:
		return NodeParquetCrawler
	}
	return fmt.Sprintf("transaction-crawler-%s", format)
}

// RoleName is the IAM role name for a stack's crawlers
func RoleName(stackName string) string {
	return stackName + "-crawler-role"
}

// kubeName turns a provider name into a Kubernetes object name.
// The provider name is kept in the external-name annotation.
func kubeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}
