package mirror

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/vecsnap/internal/item"
)

var qdrantTracer = otel.Tracer("vecsnap.mirror.qdrant")

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// pointNamespace derives deterministic point UUIDs from item ids.
var pointNamespace = uuid.MustParse("6f1c2f4e-8a44-4d38-9a4e-2f3c5b7d9e10")

const (
	payloadItemID  = "item_id"
	payloadContent = "content"
)

// PointID returns the qdrant point UUID for an item id.
func PointID(itemID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(itemID)).String()
}

// QdrantConfig holds configuration for the Qdrant gRPC mirror.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port). Default: 6334.
	Port int

	// Collection is the collection name. Default: "vecsnap_items".
	Collection string

	// Dimension is the embedding dimension.
	Dimension int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey authenticates against Qdrant Cloud.
	APIKey string

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on each retry.
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "vecsnap_items"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.Collection)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// qdrantClient is the subset of *qdrant.Client used by the mirror.
type qdrantClient interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

// QdrantMirror implements Mirror over Qdrant's native gRPC API.
//
// Point ids are UUIDv5 values derived from item ids (see PointID); the
// original id is kept in the "item_id" payload field.
type QdrantMirror struct {
	client qdrantClient
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantMirror connects to Qdrant, checks health and creates the
// collection when it does not exist.
func NewQdrantMirror(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantMirror, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	m, err := newQdrantMirror(ctx, client, config, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return m, nil
}

func newQdrantMirror(ctx context.Context, client qdrantClient, config QdrantConfig, logger *zap.Logger) (*QdrantMirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)")
	}
	m := &QdrantMirror{client: client, config: config, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	if err := m.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *QdrantMirror) ensureCollection(ctx context.Context) error {
	var exists bool
	err := m.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = m.client.CollectionExists(ctx, m.config.Collection)
		return err
	})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", m.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = m.retryOperation(ctx, "create_collection", func() error {
		return m.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: m.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(m.config.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", m.config.Collection, err)
	}
	m.logger.Info("created qdrant collection",
		zap.String("collection", m.config.Collection),
		zap.Int("dimension", m.config.Dimension))
	return nil
}

// IsTransientError reports whether a gRPC error should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// retryOperation retries an operation with exponential backoff.
func (m *QdrantMirror) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := m.config.RetryBackoff

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}
		if attempt == m.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, m.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// Upsert implements Mirror.
func (m *QdrantMirror) Upsert(ctx context.Context, items []item.Item) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantMirror.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("item_count", len(items)))

	if len(items) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, it := range items {
		if len(it.Embedding) != m.config.Dimension {
			err := fmt.Errorf("%w: item %s has %d, want %d", item.ErrDimensionMismatch, it.ID, len(it.Embedding), m.config.Dimension)
			span.RecordError(err)
			span.SetStatus(codes.Error, "dimension mismatch")
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(it.ID)),
			Vectors: qdrant.NewVectors(it.Embedding...),
			Payload: payloadFor(it),
		})
	}

	wait := true
	err := m.retryOperation(ctx, "upsert", func() error {
		_, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: m.config.Collection,
			Wait:           &wait,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

func payloadFor(it item.Item) map[string]*qdrant.Value {
	attrs := it.Attributes()
	payload := make(map[string]*qdrant.Value, len(attrs)+2)
	for k, v := range attrs {
		payload[k] = qdrant.NewValueString(v)
	}
	payload[payloadItemID] = qdrant.NewValueString(it.ID)
	payload[payloadContent] = qdrant.NewValueString(it.Content)
	return payload
}

// selector builds the points selector for p.
func (m *QdrantMirror) selector(p Predicate) *qdrant.PointsSelector {
	if len(p.IDs) > 0 {
		ids := make([]*qdrant.PointId, len(p.IDs))
		for i, id := range p.IDs {
			ids[i] = qdrant.NewIDUUID(PointID(id))
		}
		return qdrant.NewPointsSelector(ids...)
	}
	return qdrant.NewPointsSelectorFilter(filterFor(p.filter()))
}

func filterFor(where map[string]string) *qdrant.Filter {
	if len(where) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(where))
	for k, v := range where {
		conditions = append(conditions, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: conditions}
}

// DeleteWhere implements Mirror.
func (m *QdrantMirror) DeleteWhere(ctx context.Context, p Predicate) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantMirror.DeleteWhere")
	defer span.End()

	if p.Empty() {
		return ErrEmptyPredicate
	}
	if err := p.Validate(); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("id_count", len(p.IDs)))

	wait := true
	err := m.retryOperation(ctx, "delete", func() error {
		_, err := m.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: m.config.Collection,
			Wait:           &wait,
			Points:         m.selector(p),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// CountWhere implements Mirror with exact counts.
func (m *QdrantMirror) CountWhere(ctx context.Context, p Predicate) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	filter := filterFor(p.filter())
	if len(p.IDs) > 0 {
		ids := make([]*qdrant.PointId, len(p.IDs))
		for i, id := range p.IDs {
			ids[i] = qdrant.NewIDUUID(PointID(id))
		}
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewHasID(ids...)}}
	}

	var n uint64
	exact := true
	err := m.retryOperation(ctx, "count", func() error {
		var err error
		n, err = m.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: m.config.Collection,
			Filter:         filter,
			Exact:          &exact,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (m *QdrantMirror) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
