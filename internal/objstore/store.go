package objstore

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"telegram-archiver/internal/infra/logger"
)

// Options — параметры подключения к S3-совместимому хранилищу.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store — клиент контентно-адресуемого хранилища блобов медиа.
// Ключи строятся через Key(); существующий объект никогда не перезаписывается.
type Store struct {
	client *minio.Client
	bucket string
}

// New создаёт клиент и проверяет наличие бакета, создавая его при отсутствии.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio client")
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "bucket %q check", opts.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "bucket %q create", opts.Bucket)
		}
		logger.Infof("objstore: создан бакет %q", opts.Bucket)
	}

	return &Store{client: client, bucket: opts.Bucket}, nil
}

// Exists сообщает, есть ли уже объект с данным ключом. Используется для
// дедупликации: совпадающий content_hash означает, что байты уже загружены.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return false, nil
		}
		return false, errors.Wrapf(err, "stat %q", key)
	}
	return true, nil
}

// Put загружает объект потоково. size — точный размер в байтах; -1 допустим,
// но заставляет клиент буферизовать multipart-части, поэтому размер лучше знать.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return errors.Wrapf(err, "put %q", key)
	}
	return nil
}

// Get открывает объект на чтение. Закрытие — на вызывающем.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "get %q", key)
	}
	return obj, nil
}
