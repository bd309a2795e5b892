// Package account resolves the account the stack is provisioned into.
package account

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Environment variables consulted, in order
const (
	EnvAccountID      = "LAKEGRAPH_ACCOUNT_ID"
	EnvDefaultAccount = "CDK_DEFAULT_ACCOUNT"
)

// ErrUnresolved is returned when no source yields an account id
var ErrUnresolved = errors.New("account id could not be resolved")

// IdentityAPI is the subset of STS used to discover the caller's account
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Resolver finds the account id from an explicit value, the environment,
// and finally the caller identity of the ambient AWS credentials
type Resolver struct {
	// Getenv reads environment variables; os.Getenv when nil
	Getenv func(string) string

	// Identity is consulted last; nil disables the lookup
	Identity IdentityAPI
}

// NewSTSIdentity builds an STS client from the default AWS config chain
func NewSTSIdentity(ctx context.Context, region, profile string) (IdentityAPI, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sts.NewFromConfig(cfg), nil
}

// Resolve returns the first non-empty account id and where it came from
func (r Resolver) Resolve(ctx context.Context, explicit string) (id, source string, err error) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, "flag", nil
	}

	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, key := range []string{EnvAccountID, EnvDefaultAccount} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v, key, nil
		}
	}

	if r.Identity == nil {
		return "", "", ErrUnresolved
	}

	log.FromContext(ctx).V(1).Info("Resolving account from caller identity")
	out, err := r.Identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", "", fmt.Errorf("%w: caller identity: %w", ErrUnresolved, err)
	}
	if v := aws.ToString(out.Account); v != "" {
		return v, "sts", nil
	}
	return "", "", ErrUnresolved
}
