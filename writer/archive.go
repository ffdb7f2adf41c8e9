package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// ParquetRecord is the on-disk layout of one archived bucket row.
type ParquetRecord struct {
	Symbol      string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	BucketPrice int64   `parquet:"name=bucket_price, type=INT64"`
	Quantity    float64 `parquet:"name=quantity, type=DOUBLE"`
	Timestamp   int64   `parquet:"name=timestamp, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Writing is append only, seek is never needed.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// BucketLister reads the current bucket state for a symbol.
type BucketLister interface {
	List(ctx context.Context, symbol string) ([]models.PriceBucket, error)
}

// Archiver periodically snapshots the aggregated bucket state of every
// tracked symbol into a parquet file and uploads it to S3. The bucket
// store only ever holds the latest cycle, so the archive is what gives
// the aggregation a history.
type Archiver struct {
	config   *appconfig.Config
	store    BucketLister
	s3Client *s3.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	ticker   *time.Ticker
	log      *logger.Log
}

// NewArchiver builds the S3 client and returns an archiver for the
// configured symbols.
func NewArchiver(cfg *appconfig.Config, store BucketLister, log *logger.Log) (*Archiver, error) {
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Archive.S3.Region),
	}
	if cfg.Archive.S3.AccessKeyID != "" && cfg.Archive.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Archive.S3.AccessKeyID,
				cfg.Archive.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("archiver").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Archive.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Archive.S3.PathStyle
	})

	log.WithComponent("archiver").WithFields(logger.Fields{
		"bucket":     cfg.Archive.S3.Bucket,
		"region":     cfg.Archive.S3.Region,
		"endpoint":   cfg.Archive.S3.Endpoint,
		"path_style": cfg.Archive.S3.PathStyle,
		"interval":   cfg.Archive.Interval.String(),
	}).Info("archiver initialized")

	return &Archiver{
		config:   cfg,
		store:    store,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}, nil
}

// Start begins the periodic snapshot loop.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting archiver")

	a.ticker = time.NewTicker(a.config.Archive.Interval)

	a.wg.Add(1)
	go a.snapshotWorker()

	log.Info("archiver started successfully")
	return nil
}

// Stop halts the snapshot loop and waits for an in-flight upload.
func (a *Archiver) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
	}

	a.log.WithComponent("archiver").Info("stopping archiver")
	a.wg.Wait()
	a.log.WithComponent("archiver").Info("archiver stopped")
}

func (a *Archiver) snapshotWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"worker": "snapshot"})
	log.Info("starting snapshot worker")

	for {
		select {
		case <-a.ctx.Done():
			a.snapshotAll("shutdown")
			log.Info("snapshot worker stopped due to context cancellation")
			return
		case <-a.ticker.C:
			a.snapshotAll("interval")
		}
	}
}

func (a *Archiver) snapshotAll(reason string) {
	for _, symbol := range a.config.Ingest.Symbols {
		a.snapshotSymbol(symbol, reason)
	}
}

func (a *Archiver) snapshotSymbol(symbol, reason string) {
	snapshotID := uuid.New().String()
	takenAt := time.Now().UTC()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{
		"snapshot_id": snapshotID,
		"symbol":      symbol,
		"reason":      reason,
		"operation":   "snapshot",
	})

	ctx := context.WithoutCancel(a.ctx)

	buckets, err := a.store.List(ctx, symbol)
	if err != nil {
		log.WithError(err).Warn("failed to read bucket state for snapshot")
		return
	}
	if len(buckets) == 0 {
		log.Debug("no buckets for symbol, skipping snapshot")
		return
	}

	key := a.objectKey(symbol, takenAt)
	log = log.WithFields(logger.Fields{"s3_key": key})

	data, err := a.createParquetFile(buckets, takenAt)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := a.uploadToS3(ctx, key, data); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": a.config.Archive.S3.Bucket}).
			Error("failed to upload snapshot to S3")
		return
	}

	log.WithFields(logger.Fields{
		"record_count": len(buckets),
		"file_size":    len(data),
	}).Info("bucket snapshot archived")
}

func (a *Archiver) objectKey(symbol string, takenAt time.Time) string {
	return path.Join(
		"buckets",
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("year=%04d", takenAt.Year()),
		fmt.Sprintf("month=%02d", takenAt.Month()),
		fmt.Sprintf("day=%02d", takenAt.Day()),
		fmt.Sprintf("%s_book_%s_%s.parquet",
			a.config.Bookflow.Name,
			symbol,
			takenAt.Format("20060102150405")),
	)
}

func (a *Archiver) createParquetFile(buckets []models.PriceBucket, takenAt time.Time) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch a.config.Archive.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "lzo":
		pw.CompressionType = parquet.CompressionCodec_LZO
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, bucket := range buckets {
		record := ParquetRecord{
			Symbol:      bucket.Symbol,
			BucketPrice: bucket.Price,
			Quantity:    bucket.Quantity,
			Timestamp:   takenAt.UnixMilli(),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (a *Archiver) uploadToS3(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Archive.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"compression":      a.config.Archive.Compression,
			"bookflow-version": a.config.Bookflow.Version,
		},
	}

	if _, err := a.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.config.Archive.S3.Bucket, err)
	}
	return nil
}
