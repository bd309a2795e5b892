package stack

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

// Defaults for Config fields left empty
const (
	DefaultStackName      = "datalake"
	DefaultRegion         = "us-east-1"
	DefaultBucketSuffix   = "datalake"
	DefaultDatabaseName   = "datalake"
	DefaultAssetDir       = "./data"
	DefaultProviderConfig = "default"

	// CrawlerTrustPrincipal is the service allowed to assume the crawler role
	CrawlerTrustPrincipal = "glue.amazonaws.com"

	// maxRoleNameLength is the IAM limit on role names
	maxRoleNameLength = 64
)

// DefaultManagedPolicyARNs are attached to the crawler role when none are configured.
// They are broader than a crawler needs; Build records a warning for each.
var DefaultManagedPolicyARNs = []string{
	"arn:aws:iam::aws:policy/AmazonS3FullAccess",
	"arn:aws:iam::aws:policy/AWSGlueConsoleFullAccess",
	"arn:aws:iam::aws:policy/CloudWatchLogsFullAccess",
}

var (
	accountPattern      = regexp.MustCompile(`^[0-9]{12}$`)
	bucketPattern       = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	databasePattern     = regexp.MustCompile(`^[a-z0-9]([a-z0-9_]{0,251}[a-z0-9])?$`)
	regionPattern       = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-[0-9]+$`)
	policyARNPattern    = regexp.MustCompile(`^arn:aws[a-z-]*:iam::(aws|[0-9]{12}):policy/[A-Za-z0-9+=,.@_/-]+$`)
	cronSchedulePattern = regexp.MustCompile(`^cron\(.+\)$`)
)

// Config is the explicit input of Build. Only AccountID is required.
type Config struct {
	// AccountID is the 12-digit account the stack is provisioned into
	AccountID string

	StackName    string
	Region       string
	BucketSuffix string
	DatabaseName string

	RemovalPolicy     RemovalPolicy
	AutoDeleteObjects bool

	// LifecycleExpirationDays expires raw objects after N days; 0 disables the rule
	LifecycleExpirationDays int

	// CrawlerSchedule is a Glue cron expression, e.g. "cron(0 2 * * ? *)"; empty runs on demand
	CrawlerSchedule string

	ManagedPolicyARNs []string

	AssetDir    string
	AssetPrefix string

	// ProviderConfig is the Crossplane ProviderConfig the managed resources use
	ProviderConfig string
}

// WithDefaults returns a copy of c with empty fields defaulted
func (c Config) WithDefaults() Config {
	c.AccountID = strings.TrimSpace(c.AccountID)
	if c.StackName == "" {
		c.StackName = DefaultStackName
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.BucketSuffix == "" {
		c.BucketSuffix = DefaultBucketSuffix
	}
	if c.DatabaseName == "" {
		c.DatabaseName = DefaultDatabaseName
	}
	if c.RemovalPolicy == "" {
		c.RemovalPolicy = RemovalPolicyDestroy
	}
	if len(c.ManagedPolicyARNs) == 0 {
		c.ManagedPolicyARNs = append([]string(nil), DefaultManagedPolicyARNs...)
	} else {
		c.ManagedPolicyARNs = append([]string(nil), c.ManagedPolicyARNs...)
	}
	if c.AssetDir == "" {
		c.AssetDir = DefaultAssetDir
	}
	c.AssetPrefix = strings.Trim(c.AssetPrefix, "/")
	if c.ProviderConfig == "" {
		c.ProviderConfig = DefaultProviderConfig
	}
	return c
}

// Validate checks a defaulted config. It does not touch the filesystem.
func (c Config) Validate() error {
	if c.AccountID == "" {
		return ErrMissingAccount
	}
	if !accountPattern.MatchString(c.AccountID) {
		return fmt.Errorf("%w: account id %q must be 12 digits", ErrInvalidConfig, c.AccountID)
	}

	// The stack name is a label value and the prefix of the role name
	if errs := validation.IsDNS1123Label(c.StackName); len(errs) > 0 {
		return fmt.Errorf("%w: stack name %q: %s", ErrInvalidConfig, c.StackName, strings.Join(errs, "; "))
	}
	if role := RoleName(c.StackName); len(role) > maxRoleNameLength {
		return fmt.Errorf("%w: role name %q is longer than %d characters", ErrInvalidConfig, role, maxRoleNameLength)
	}
	if !regionPattern.MatchString(c.Region) {
		return fmt.Errorf("%w: region %q", ErrInvalidConfig, c.Region)
	}
	if err := validateBucketName(BucketName(c.AccountID, c.BucketSuffix)); err != nil {
		return err
	}
	if !databasePattern.MatchString(c.DatabaseName) {
		return fmt.Errorf("%w: database name %q must be lowercase letters, digits or underscores, starting and ending with a letter or digit", ErrInvalidConfig, c.DatabaseName)
	}
	if err := validateDNSName("database object name", kubeName(c.DatabaseName)); err != nil {
		return err
	}

	switch c.RemovalPolicy {
	case RemovalPolicyDestroy, RemovalPolicyRetain:
	default:
		return fmt.Errorf("%w: removal policy %q", ErrInvalidConfig, c.RemovalPolicy)
	}

	if c.LifecycleExpirationDays < 0 {
		return fmt.Errorf("%w: lifecycle expiration days must be non-negative", ErrInvalidConfig)
	}
	if c.CrawlerSchedule != "" && !cronSchedulePattern.MatchString(c.CrawlerSchedule) {
		return fmt.Errorf("%w: crawler schedule %q must be a cron(...) expression", ErrInvalidConfig, c.CrawlerSchedule)
	}

	seen := make(map[string]bool, len(c.ManagedPolicyARNs))
	for _, arn := range c.ManagedPolicyARNs {
		if !policyARNPattern.MatchString(arn) {
			return fmt.Errorf("%w: managed policy ARN %q", ErrInvalidConfig, arn)
		}
		if seen[arn] {
			return fmt.Errorf("%w: managed policy ARN %q listed twice", ErrInvalidConfig, arn)
		}
		seen[arn] = true
	}

	if strings.TrimSpace(c.AssetDir) == "" {
		return fmt.Errorf("%w: asset directory is required", ErrInvalidConfig)
	}
	if err := validateDNSName("provider config", c.ProviderConfig); err != nil {
		return err
	}
	return nil
}

// validateBucketName applies the S3 general purpose bucket naming rules
func validateBucketName(name string) error {
	if !bucketPattern.MatchString(name) {
		return fmt.Errorf("%w: bucket name %q must be 3-63 lowercase letters, digits, dots or hyphens", ErrInvalidConfig, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: bucket name %q contains adjacent periods", ErrInvalidConfig, name)
	}
	if net.ParseIP(name) != nil {
		return fmt.Errorf("%w: bucket name %q is formatted as an IP address", ErrInvalidConfig, name)
	}
	return nil
}

func validateDNSName(field, name string) error {
	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return fmt.Errorf("%w: %s %q: %s", ErrInvalidConfig, field, name, strings.Join(errs, "; "))
	}
	return nil
}
