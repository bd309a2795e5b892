// Package config loads stack files: YAML documents validated against the
// embedded #StackConfig CUE schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	lakecue "github.com/chazu/lakegraph/cue"
	"github.com/chazu/lakegraph/pkg/stack"
)

// ErrInvalidFile is returned when a stack file does not match the schema
var ErrInvalidFile = errors.New("invalid stack file")

// File is the on-disk shape of a stack file
type File struct {
	AccountID      string        `yaml:"accountId,omitempty" json:"accountId,omitempty"`
	StackName      string        `yaml:"stackName,omitempty" json:"stackName,omitempty"`
	Region         string        `yaml:"region,omitempty" json:"region,omitempty"`
	Bucket         *BucketFile   `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Database       *DatabaseFile `yaml:"database,omitempty" json:"database,omitempty"`
	Crawlers       *CrawlersFile `yaml:"crawlers,omitempty" json:"crawlers,omitempty"`
	Assets         *AssetsFile   `yaml:"assets,omitempty" json:"assets,omitempty"`
	Upload         *UploadFile   `yaml:"upload,omitempty" json:"upload,omitempty"`
	ProviderConfig string        `yaml:"providerConfig,omitempty" json:"providerConfig,omitempty"`
}

type BucketFile struct {
	Suffix            string `yaml:"suffix,omitempty" json:"suffix,omitempty"`
	RemovalPolicy     string `yaml:"removalPolicy,omitempty" json:"removalPolicy,omitempty"`
	AutoDeleteObjects bool   `yaml:"autoDeleteObjects,omitempty" json:"autoDeleteObjects,omitempty"`
	ExpirationDays    int    `yaml:"expirationDays,omitempty" json:"expirationDays,omitempty"`
}

type DatabaseFile struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

type CrawlersFile struct {
	Schedule          string   `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	ManagedPolicyARNs []string `yaml:"managedPolicyArns,omitempty" json:"managedPolicyArns,omitempty"`
}

type AssetsFile struct {
	Dir    string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

type UploadFile struct {
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Concurrency int    `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
}

// Settings is a loaded stack file split by consumer
type Settings struct {
	Stack  stack.Config
	Upload UploadFile
}

// Loader validates stack files against the embedded schema
type Loader struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewLoader compiles the embedded schema
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(lakecue.StackSchema, cue.Filename("stack.cue"))
	if v.Err() != nil {
		return nil, fmt.Errorf("failed to compile stack schema: %w", v.Err())
	}
	def := v.LookupPath(cue.ParsePath(lakecue.StackDefinition))
	if !def.Exists() {
		return nil, fmt.Errorf("stack schema has no %s definition", lakecue.StackDefinition)
	}
	return &Loader{ctx: ctx, schema: def}, nil
}

// LoadFile reads and validates a stack file
func (l *Loader) LoadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stack file: %w", err)
	}
	settings, err := l.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return settings, nil
}

// Load decodes and validates stack file contents. Unknown keys are rejected.
func (l *Loader) Load(data []byte) (*Settings, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	if err := l.Validate(&f); err != nil {
		return nil, err
	}
	return f.settings(), nil
}

// Validate checks a decoded file against #StackConfig
func (l *Loader) Validate(f *File) error {
	v := l.schema.Unify(l.ctx.Encode(f))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidFile, cueerrors.Details(err, nil))
	}
	return nil
}

func (f *File) settings() *Settings {
	s := &Settings{
		Stack: stack.Config{
			AccountID:      f.AccountID,
			StackName:      f.StackName,
			Region:         f.Region,
			ProviderConfig: f.ProviderConfig,
		},
	}
	if b := f.Bucket; b != nil {
		s.Stack.BucketSuffix = b.Suffix
		s.Stack.RemovalPolicy = stack.RemovalPolicy(b.RemovalPolicy)
		s.Stack.AutoDeleteObjects = b.AutoDeleteObjects
		s.Stack.LifecycleExpirationDays = b.ExpirationDays
	}
	if f.Database != nil {
		s.Stack.DatabaseName = f.Database.Name
	}
	if c := f.Crawlers; c != nil {
		s.Stack.CrawlerSchedule = c.Schedule
		s.Stack.ManagedPolicyARNs = c.ManagedPolicyARNs
	}
	if a := f.Assets; a != nil {
		s.Stack.AssetDir = a.Dir
		s.Stack.AssetPrefix = a.Prefix
	}
	if f.Upload != nil {
		s.Upload = *f.Upload
	}
	return s
}
