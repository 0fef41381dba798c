// Package s3store implements store.TableStore over S3 objects, one JSON
// object per PK tuple under a configurable prefix, using the aws-sdk-go-v2
// s3.Client.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/malbeclabs/pipelake/internal/errs"
	"github.com/malbeclabs/pipelake/internal/frame"
	"github.com/malbeclabs/pipelake/internal/retry"
	"github.com/malbeclabs/pipelake/internal/store"
)

// Store is an S3-backed TableStore. Each row lives at
// Prefix/<pk-joined-by-/>.json.
type Store struct {
	Client   *s3.Client
	Bucket   string
	Prefix   string
	Schema   []store.Column
	Columns  []string
	readOnly bool
}

func New(client *s3.Client, bucket, prefix string, schema []store.Column, columns []string, readOnly bool) *Store {
	return &Store{Client: client, Bucket: bucket, Prefix: strings.Trim(prefix, "/"), Schema: schema, Columns: columns, readOnly: readOnly}
}

func (s *Store) PrimarySchema() []store.Column { return s.Schema }
func (s *Store) ReadOnly() bool                { return s.readOnly }

func (s *Store) keyFor(pk []any) string {
	parts := make([]string, len(pk))
	for i, v := range pk {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("%s/%s.json", s.Prefix, strings.Join(parts, "/"))
}

func (s *Store) getOne(ctx context.Context, key string) (map[string]any, bool, error) {
	var out *s3.GetObjectOutput
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		out, err = s.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(key)})
		return err
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("s3store: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("s3store: read %s: %w", key, err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false, fmt.Errorf("s3store: decode %s: %w", key, err)
	}
	return obj, true, nil
}

func (s *Store) rowFrom(pk []any, obj map[string]any) []any {
	row := append([]any{}, pk...)
	for _, col := range s.Columns[len(s.Schema):] {
		row = append(row, obj[col])
	}
	return row
}

// ReadRows reads by PK when idx is given, or lists every object under
// Prefix when nil.
func (s *Store) ReadRows(ctx context.Context, idx *frame.Frame) (*frame.Frame, error) {
	out := frame.New(s.Columns, len(s.Schema))

	if idx == nil {
		paginator := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix + "/"),
		})
		for paginator.HasMorePages() {
			var page *s3.ListObjectsV2Output
			err := retry.Do(ctx, retry.DefaultConfig(), func() error {
				var err error
				page, err = paginator.NextPage(ctx)
				return err
			})
			if err != nil {
				return nil, fmt.Errorf("s3store: list %s: %w", s.Prefix, err)
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				pk := pkFromKey(s.Prefix, key)
				data, found, err := s.getOne(ctx, key)
				if err != nil {
					return nil, err
				}
				if found {
					out.Rows = append(out.Rows, s.rowFrom(pk, data))
				}
			}
		}
		return out, nil
	}

	for i := 0; i < idx.Len(); i++ {
		pk := idx.Rows[i]
		key := s.keyFor(pk)
		data, found, err := s.getOne(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			out.Rows = append(out.Rows, s.rowFrom(pk, data))
		}
	}
	return out, nil
}

func pkFromKey(prefix, key string) []any {
	rel := strings.TrimSuffix(strings.TrimPrefix(key, prefix+"/"), ".json")
	parts := strings.Split(rel, "/")
	pk := make([]any, len(parts))
	for i, p := range parts {
		pk[i] = p
	}
	return pk
}

func (s *Store) putRow(ctx context.Context, row []any) error {
	pk := row[:len(s.Schema)]
	key := s.keyFor(pk)

	obj := map[string]any{}
	for i, col := range s.Columns[len(s.Schema):] {
		obj[col] = row[len(s.Schema)+i]
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("s3store: encode %s: %w", key, err)
	}
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("s3store: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) InsertRows(ctx context.Context, df *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	for _, row := range df.Rows {
		if err := s.putRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpdateRows(ctx context.Context, df *frame.Frame) error {
	return s.InsertRows(ctx, df)
}

func (s *Store) DeleteRows(ctx context.Context, idx *frame.Frame) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}
	for i := 0; i < idx.Len(); i++ {
		key := s.keyFor(idx.Rows[i])
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(key)})
			return err
		})
		if err != nil {
			return fmt.Errorf("s3store: delete %s: %w", key, err)
		}
	}
	return nil
}
