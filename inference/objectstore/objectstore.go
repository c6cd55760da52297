// Package objectstore resolves Image/File content blocks whose bytes live in
// external storage (an S3-compatible bucket) rather than inline in the
// request, before the dispatcher hands a message list to a variant. It
// mirrors the teacher's thin-interface-over-an-AWS-SDK-client pattern
// (features/model/bedrock/client.go's RuntimeClient wraps *bedrockruntime.
// Client so a fake can stand in during tests); StorageClient here plays the
// same role for *s3.Client.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tensorzero/inference-core/inference/content"
	"github.com/tensorzero/inference-core/inference/ierrors"
)

// StorageClient is the subset of *s3.Client the resolver needs. Matches
// *s3.Client so callers can pass the real client or a fake in tests.
type StorageClient interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// StoragePointer locates a blob previously uploaded to the object store.
// ImagePart.StoragePointer/FilePart.StoragePointer carry only its Key; the
// Resolver supplies its own bucket.
type StoragePointer struct {
	Bucket string
	Key    string
}

// Resolver fetches or stores content-block bytes against a configured
// bucket.
type Resolver struct {
	client StorageClient
	bucket string
}

// New constructs a Resolver against the given bucket.
func New(client StorageClient, bucket string) *Resolver {
	return &Resolver{client: client, bucket: bucket}
}

// ResolveMessages returns a copy of messages with every ImagePart/FilePart
// that carries a StoragePointer (and no inline Bytes) fetched and inlined,
// implementing the ResolvedInput step spec.md §4.1 requires before a
// request reaches a provider adapter.
func (r *Resolver) ResolveMessages(ctx context.Context, messages []content.Message) ([]content.Message, error) {
	out := make([]content.Message, len(messages))
	for i, m := range messages {
		parts := make([]content.Part, len(m.Parts))
		for j, p := range m.Parts {
			resolved, err := r.resolvePart(ctx, p)
			if err != nil {
				return nil, err
			}
			parts[j] = resolved
		}
		out[i] = content.Message{Role: m.Role, Parts: parts}
	}
	return out, nil
}

func (r *Resolver) resolvePart(ctx context.Context, p content.Part) (content.Part, error) {
	switch v := p.(type) {
	case content.ImagePart:
		if len(v.Bytes) > 0 || v.StoragePointer == "" {
			return v, nil
		}
		b, err := r.get(ctx, v.StoragePointer)
		if err != nil {
			return nil, err
		}
		v.Bytes = b
		return v, nil
	case content.FilePart:
		if len(v.Bytes) > 0 || v.StoragePointer == "" {
			return v, nil
		}
		b, err := r.get(ctx, v.StoragePointer)
		if err != nil {
			return nil, err
		}
		v.Bytes = b
		return v, nil
	default:
		return p, nil
	}
}

func (r *Resolver) get(ctx context.Context, key string) ([]byte, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &r.bucket, Key: &key})
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindObjectStoreWrite, err, fmt.Sprintf("objectstore: get %q", key))
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.KindObjectStoreWrite, err, fmt.Sprintf("objectstore: read %q", key))
	}
	return b, nil
}

// Put uploads bytes under key, returning the StoragePointer string to embed
// in a StoredInput content block for observability persistence.
func (r *Resolver) Put(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &r.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &mimeType,
	})
	if err != nil {
		return "", ierrors.Wrap(ierrors.KindObjectStoreWrite, err, fmt.Sprintf("objectstore: put %q", key))
	}
	return key, nil
}
