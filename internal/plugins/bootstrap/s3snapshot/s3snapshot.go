// Package s3snapshot is a bootstrap provider plugin that reads a
// newline-delimited-JSON element snapshot out of an S3 (or
// S3-compatible) bucket. It talks to S3 through storage.S3Client, the
// teacher's dependency-injection seam over the aws-sdk-go-v2 client,
// so tests can swap in storage.MockS3Client instead of a live bucket.
package s3snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flowgraphd/flowgraphd/internal/blockingio"
	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/model"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
	"github.com/flowgraphd/flowgraphd/storage"
)

const Kind = "s3snapshot"

// Config names the bucket/prefix a snapshot is read from.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// Provider lists every object under Prefix in Bucket and streams each
// line of each object as one JSON-encoded element record.
type Provider struct {
	client   storage.S3Client
	cfg      Config
	sourceID string
}

var _ component.BootstrapProvider = (*Provider)(nil)

// New builds a Provider over an already-constructed S3 client, real or
// (in tests) a *storage.MockS3Client.
func New(sourceID string, client storage.S3Client, cfg Config) *Provider {
	return &Provider{client: client, cfg: cfg, sourceID: sourceID}
}

func Build(id string, cfg map[string]any) (any, error) {
	c := Config{
		Endpoint:  stringField(cfg, "endpoint", ""),
		Region:    stringField(cfg, "region", "us-east-1"),
		AccessKey: stringField(cfg, "accessKey", ""),
		SecretKey: stringField(cfg, "secretKey", ""),
		Bucket:    stringField(cfg, "bucket", ""),
		Prefix:    stringField(cfg, "prefix", ""),
	}
	if c.Bucket == "" {
		return nil, fmt.Errorf("s3snapshot: config.bucket is required")
	}

	client, err := newS3Client(context.Background(), c)
	if err != nil {
		return nil, fmt.Errorf("s3snapshot: %w", err)
	}
	return New(id, client, c), nil
}

// newS3Client loads an aws-sdk-go-v2 client with static credentials
// pointed at cfg.Endpoint, matching the teacher's S3-compatible
// endpoint-resolver pattern.
func newS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: region}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

func stringField(m map[string]any, key, dflt string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return dflt
}

// Register binds this plugin's Kind in registry.
func Register(registry *pluginregistry.Registry) error {
	return registry.Register(pluginregistry.CategoryBootstrapProvider, pluginregistry.Descriptor{Kind: Kind, Build: Build})
}

// record is one line of a snapshot object.
type record struct {
	Kind       string         `json:"kind"`
	ElementID  string         `json:"elementId"`
	Labels     []string       `json:"labels"`
	Label      string         `json:"label"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Properties map[string]any `json:"properties"`
}

func (p *Provider) Bootstrap(ctx context.Context, filter model.SubscriptionFilter) (<-chan model.Element, <-chan error) {
	elements := make(chan model.Element)
	errs := make(chan error, 1)

	go func() {
		defer close(elements)
		defer close(errs)

		err := blockingio.Default().Submit(ctx, func(ctx context.Context) error {
			listInput := &s3.ListObjectsV2Input{Bucket: aws.String(p.cfg.Bucket)}
			if p.cfg.Prefix != "" {
				listInput.Prefix = aws.String(p.cfg.Prefix)
			}
			listing, err := p.client.ListObjectsV2(ctx, listInput)
			if err != nil {
				return fmt.Errorf("s3snapshot: list objects: %w", err)
			}

			for _, obj := range listing.Contents {
				if obj.Key == nil {
					continue
				}
				out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.cfg.Bucket), Key: obj.Key})
				if err != nil {
					return fmt.Errorf("s3snapshot: get object %s: %w", *obj.Key, err)
				}

				scanner := bufio.NewScanner(out.Body)
				for scanner.Scan() {
					var rec record
					if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
						continue
					}
					elem := toElement(p.sourceID, rec)
					if !filter.Accepts(elem) {
						continue
					}
					select {
					case elements <- elem:
					case <-ctx.Done():
						out.Body.Close()
						return ctx.Err()
					}
				}
				out.Body.Close()
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()

	return elements, errs
}

func toElement(sourceID string, rec record) model.Element {
	ref := model.Ref{SourceID: sourceID, ElementID: rec.ElementID}
	if rec.Kind == "relation" {
		from := model.Ref{SourceID: sourceID, ElementID: rec.From}
		to := model.Ref{SourceID: sourceID, ElementID: rec.To}
		return model.NewRelation(ref, rec.Label, rec.Labels, from, to, rec.Properties)
	}
	return model.NewNode(ref, rec.Labels, rec.Properties)
}
