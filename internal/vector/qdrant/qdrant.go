// Package qdrant implements vector.Store on a Qdrant collection over gRPC.
// Namespaces share one collection and are separated by a keyword payload filter.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/efebarandurmaz/repoqa/internal/vector"
)

const (
	fieldKey       = "key"
	fieldNamespace = "namespace"
	fieldPath      = "path"
	fieldRoot      = "root"
)

// pointSpace seeds name-based point ids so the same key always maps to the same point.
var pointSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/efebarandurmaz/repoqa/points"))

// Options configures the connection and collection.
type Options struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions int
}

// Store implements vector.Store using Qdrant.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
}

// New connects to Qdrant and makes sure the collection exists with the
// configured dimensionality.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: dimensions must be positive, got %d", opts.Dimensions)
	}

	creds := insecure.NewCredentials()
	if opts.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	s := &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  opts.Collection,
		dims:        opts.Dimensions,
	}
	if err := s.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (s *Store) ensureCollection(ctx context.Context) error {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err == nil {
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && int(size) != s.dims {
			return fmt.Errorf("qdrant collection %q has size %d, configured %d: %w",
				s.collection, size, s.dims, vector.ErrDimensionMismatch)
		}
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("qdrant get collection %q: %w", s.collection, err)
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     uint64(s.dims),
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %q: %w", s.collection, err)
	}

	_, err = s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: s.collection,
		Wait:           proto.Bool(true),
		FieldName:      fieldNamespace,
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant index %q: %w", fieldNamespace, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if len(r.Vector) != s.dims {
			return fmt.Errorf("record %q has %d dimensions, want %d: %w", r.Key, len(r.Vector), s.dims, vector.ErrDimensionMismatch)
		}
		points[i] = buildPoint(namespace, r)
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           proto.Bool(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Query returns matches in the order Qdrant ranks them. Ties are ordered by Qdrant.
func (s *Store) Query(ctx context.Context, namespace string, vec []float32, k int) ([]vector.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vec) != s.dims {
		return nil, fmt.Errorf("query vector has %d dimensions, want %d: %w", len(vec), s.dims, vector.ErrDimensionMismatch)
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(k),
		Filter:         namespaceFilter(namespace),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	matches := make([]vector.Match, 0, len(resp.Result))
	for _, pt := range resp.Result {
		matches = append(matches, matchFromPoint(pt))
	}
	return matches, nil
}

// Ping checks that the collection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	return err
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// PointID maps a record key to its stable Qdrant point id.
func PointID(key string) string {
	return uuid.NewSHA1(pointSpace, []byte(key)).String()
}

func buildPoint(namespace string, r vector.Record) *pb.PointStruct {
	return &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.Key)}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
		Payload: map[string]*pb.Value{
			fieldKey:       stringValue(r.Key),
			fieldNamespace: stringValue(namespace),
			fieldPath:      stringValue(r.Path),
			fieldRoot:      stringValue(r.Root),
		},
	}
}

func namespaceFilter(namespace string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
				Key:   fieldNamespace,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: namespace}},
			}},
		}},
	}
}

func matchFromPoint(pt *pb.ScoredPoint) vector.Match {
	p := pt.GetPayload()
	return vector.Match{
		Key:   p[fieldKey].GetStringValue(),
		Score: pt.GetScore(),
		Path:  p[fieldPath].GetStringValue(),
		Root:  p[fieldRoot].GetStringValue(),
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

var _ vector.Store = (*Store)(nil)
