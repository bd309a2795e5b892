package stack

import "fmt"

// RemovalPolicy decides what happens to the bucket when the stack is torn down
type RemovalPolicy string

const (
	// RemovalPolicyDestroy deletes the bucket with the stack
	RemovalPolicyDestroy RemovalPolicy = "Destroy"

	// RemovalPolicyRetain orphans the bucket
	RemovalPolicyRetain RemovalPolicy = "Retain"
)

// deletionPolicy maps the removal policy onto Crossplane's spec.deletionPolicy
func (p RemovalPolicy) deletionPolicy() string {
	if p == RemovalPolicyRetain {
		return "Orphan"
	}
	return "Delete"
}

// UpdateBehavior is the crawler's reaction to a changed schema
type UpdateBehavior string

const (
	UpdateBehaviorLog              UpdateBehavior = "LOG"
	UpdateBehaviorUpdateInDatabase UpdateBehavior = "UPDATE_IN_DATABASE"
)

// DeleteBehavior is the crawler's reaction to a removed object
type DeleteBehavior string

const (
	DeleteBehaviorLog                 DeleteBehavior = "LOG"
	DeleteBehaviorUpdateInDatabase    DeleteBehavior = "UPDATE_IN_DATABASE"
	DeleteBehaviorDeprecateInDatabase DeleteBehavior = "DEPRECATE_IN_DATABASE"
)

// SchemaChangePolicy pairs the crawler update and delete behaviors
type SchemaChangePolicy struct {
	UpdateBehavior UpdateBehavior
	DeleteBehavior DeleteBehavior
}

// DefaultSchemaChangePolicy is applied to every crawler in the stack
var DefaultSchemaChangePolicy = SchemaChangePolicy{
	UpdateBehavior: UpdateBehaviorUpdateInDatabase,
	DeleteBehavior: DeleteBehaviorDeprecateInDatabase,
}

// Validate checks both behaviors against their enumerations
func (p SchemaChangePolicy) Validate() error {
	switch p.UpdateBehavior {
	case UpdateBehaviorLog, UpdateBehaviorUpdateInDatabase:
	default:
		return fmt.Errorf("%w: update behavior %q", ErrInvalidConfig, p.UpdateBehavior)
	}
	switch p.DeleteBehavior {
	case DeleteBehaviorLog, DeleteBehaviorUpdateInDatabase, DeleteBehaviorDeprecateInDatabase:
	default:
		return fmt.Errorf("%w: delete behavior %q", ErrInvalidConfig, p.DeleteBehavior)
	}
	return nil
}

// FileFormat is a raw data format with its own crawler
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
)

// Formats lists the supported formats in crawler declaration order
var Formats = []FileFormat{FormatCSV, FormatParquet}

// ResourceKind names a descriptor type
type ResourceKind string

const (
	KindStorageBucket   ResourceKind = "StorageBucket"
	KindCatalogDatabase ResourceKind = "CatalogDatabase"
	KindAccessRole      ResourceKind = "AccessRole"
	KindCrawlerJob      ResourceKind = "CrawlerJob"
	KindUploadJob       ResourceKind = "UploadJob"
)

// Node IDs of the descriptors in the graph
const (
	NodeBucket          = "bucket"
	NodeBucketLifecycle = "bucket-lifecycle"
	NodeDatabase        = "database"
	NodeCrawlerRole     = "crawler-role"
	NodeCSVCrawler      = "transaction-crawler-csv"
	NodeParquetCrawler  = "transaction-crawler-parquet"
	NodeUpload          = "deploy-test-files"
)

// Resource is a typed descriptor in the stack
type Resource interface {
	// NodeID is the descriptor's ID in the graph
	NodeID() string

	// Kind is the descriptor type
	Kind() ResourceKind

	// ResourceName is the name the provider knows the resource by
	ResourceName() string

	// References lists the node IDs this descriptor points at
	References() []string
}

// StorageBucket is the shared raw-data bucket
type StorageBucket struct {
	Name              string
	Region            string
	RemovalPolicy     RemovalPolicy
	AutoDeleteObjects bool

	// ExpirationDays expires objects under raw/ after this many days; 0 disables
	ExpirationDays int
}

func (b *StorageBucket) NodeID() string       { return NodeBucket }
func (b *StorageBucket) Kind() ResourceKind   { return KindStorageBucket }
func (b *StorageBucket) ResourceName() string { return b.Name }
func (b *StorageBucket) References() []string { return nil }

// CatalogDatabase is the Glue database the crawlers write tables into
type CatalogDatabase struct {
	Name      string
	CatalogID string
	Region    string
}

func (d *CatalogDatabase) NodeID() string       { return NodeDatabase }
func (d *CatalogDatabase) Kind() ResourceKind   { return KindCatalogDatabase }
func (d *CatalogDatabase) ResourceName() string { return d.Name }
func (d *CatalogDatabase) References() []string { return nil }

// AccessRole is the IAM role assumed by the crawlers
type AccessRole struct {
	Name              string
	TrustPrincipal    string
	ManagedPolicyARNs []string
}

func (r *AccessRole) NodeID() string       { return NodeCrawlerRole }
func (r *AccessRole) Kind() ResourceKind   { return KindAccessRole }
func (r *AccessRole) ResourceName() string { return r.Name }
func (r *AccessRole) References() []string { return nil }

// CrawlerJob crawls one format prefix of the bucket into the database
type CrawlerJob struct {
	ID                 string
	Name               string
	Format             FileFormat
	TargetPath         string
	Region             string
	Schedule           string
	SchemaChangePolicy SchemaChangePolicy

	// Forward references by node ID
	RoleRef     string
	DatabaseRef string
	BucketRef   string
}

func (c *CrawlerJob) NodeID() string       { return c.ID }
func (c *CrawlerJob) Kind() ResourceKind   { return KindCrawlerJob }
func (c *CrawlerJob) ResourceName() string { return c.Name }
func (c *CrawlerJob) References() []string {
	return []string{c.BucketRef, c.DatabaseRef, c.RoleRef}
}

// UploadJob copies the local asset directory into the bucket once
type UploadJob struct {
	Name      string
	SourceDir string
	Prefix    string
	BucketRef string
}

func (u *UploadJob) NodeID() string       { return NodeUpload }
func (u *UploadJob) Kind() ResourceKind   { return KindUploadJob }
func (u *UploadJob) ResourceName() string { return u.Name }
func (u *UploadJob) References() []string { return []string{u.BucketRef} }
