/**
 * Qdrant Vector Database Client for the meme worker
 *
 * Stores template embeddings and scrolls the full collection when the
 * worker rebuilds its in-memory index snapshot. Uses Qdrant's native
 * gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// EmbeddingDimensions matches the CLIP vit-base-patch16 output size.
const EmbeddingDimensions = 512

// QdrantClient handles vector database operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
}

// TemplateVector represents a template embedding with metadata
type TemplateVector struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// NewQdrantClient creates a new Qdrant client
func NewQdrantClient(address string, collectionName string) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	// 512 dimensions, cosine similarity (CLIP vit-base-patch16)
	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     EmbeddingDimensions,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// UpsertTemplate stores or updates a template vector in Qdrant
func (q *QdrantClient) UpsertTemplate(ctx context.Context, tpl *TemplateVector) error {
	if tpl == nil {
		return fmt.Errorf("template vector is required")
	}

	if len(tpl.Vector) != EmbeddingDimensions {
		return fmt.Errorf("invalid vector dimensions: expected %d, got %d", EmbeddingDimensions, len(tpl.Vector))
	}

	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}

	payload := make(map[string]*qdrant.Value)
	for k, v := range tpl.Metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{
				Kind: &qdrant.Value_StringValue{StringValue: val},
			}
		case int64:
			payload[k] = &qdrant.Value{
				Kind: &qdrant.Value_IntegerValue{IntegerValue: val},
			}
		case float64:
			payload[k] = &qdrant.Value{
				Kind: &qdrant.Value_DoubleValue{DoubleValue: val},
			}
		case bool:
			payload[k] = &qdrant.Value{
				Kind: &qdrant.Value_BoolValue{BoolValue: val},
			}
		default:
			payload[k] = &qdrant.Value{
				Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)},
			}
		}
	}

	pointStruct := &qdrant.PointStruct{
		Id: &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{
				Uuid: tpl.ID,
			},
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{
					Data: tpl.Vector,
				},
			},
		},
		Payload: payload,
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         []*qdrant.PointStruct{pointStruct},
	})

	if err != nil {
		return fmt.Errorf("failed to upsert template vector: %w", err)
	}

	return nil
}

// ScrollAll pages through the whole collection and returns every stored
// template vector with its payload.
func (q *QdrantClient) ScrollAll(ctx context.Context) ([]*TemplateVector, error) {
	const pageSize = uint32(256)

	all := make([]*TemplateVector, 0)
	var offset *qdrant.PointId

	for {
		limit := pageSize
		resp, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collectionName,
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &qdrant.WithPayloadSelector{
				SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
			},
			WithVectors: &qdrant.WithVectorsSelector{
				SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll collection: %w", err)
		}

		for _, point := range resp.Result {
			tpl := &TemplateVector{
				Metadata: make(map[string]interface{}),
			}
			if point.Id != nil {
				tpl.ID = point.Id.GetUuid()
			}
			if point.Vectors != nil {
				if vec := point.Vectors.GetVector(); vec != nil {
					tpl.Vector = vec.Data
				}
			}
			for k, v := range point.Payload {
				switch val := v.Kind.(type) {
				case *qdrant.Value_StringValue:
					tpl.Metadata[k] = val.StringValue
				case *qdrant.Value_IntegerValue:
					tpl.Metadata[k] = val.IntegerValue
				case *qdrant.Value_DoubleValue:
					tpl.Metadata[k] = val.DoubleValue
				case *qdrant.Value_BoolValue:
					tpl.Metadata[k] = val.BoolValue
				}
			}
			all = append(all, tpl)
		}

		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			break
		}
		offset = resp.NextPageOffset
	}

	return all, nil
}

// DeleteTemplate removes a template vector by ID
func (q *QdrantClient) DeleteTemplate(ctx context.Context, pointID string) error {
	if pointID == "" {
		return fmt.Errorf("point ID is required")
	}

	deleteReq := &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{
						{
							PointIdOptions: &qdrant.PointId_Uuid{
								Uuid: pointID,
							},
						},
					},
				},
			},
		},
	}

	_, err := q.client.Delete(ctx, deleteReq)
	if err != nil {
		return fmt.Errorf("failed to delete template vector: %w", err)
	}

	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	stats := map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"status":          info.Result.GetStatus().String(),
	}

	return stats, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
