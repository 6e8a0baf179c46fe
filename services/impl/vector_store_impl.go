package impl

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/sentinel-rag/sentinel/config"
	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

// Payload keys indexed for cheap RBAC filtering.
const (
	payloadTenantID       = "tenant_id"
	payloadDocID          = "doc_id"
	payloadDepartment     = "department"
	payloadClassification = "classification"
	payloadChunkType      = "chunk_type"
	payloadParentChunkID  = "parent_chunk_id"
	payloadChunkIndex     = "chunk_index"
	payloadContent        = "content"
	payloadTitle          = "title"
	payloadPage           = "page"
)

type vectorStoreImpl struct {
	client           *qdrant.Client
	childCollection  string
	parentCollection string
	dimension        int
	candidateFactor  int
}

// NewVectorStore connects to qdrant over gRPC.
func NewVectorStore(cfg *config.QdrantConfig, dimension, candidateFactor int) (services.VectorStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	if candidateFactor < 1 {
		candidateFactor = 3
	}
	return &vectorStoreImpl{
		client:           client,
		childCollection:  cfg.ChildCollection,
		parentCollection: cfg.ParentCollection,
		dimension:        dimension,
		candidateFactor:  candidateFactor,
	}, nil
}

func (s *vectorStoreImpl) Close() error {
	return s.client.Close()
}

// EnsureCollections creates both collections and their payload indexes if
// missing. Safe to call on every startup.
func (s *vectorStoreImpl) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{s.childCollection, s.parentCollection} {
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check collection %s: %w", name, err)
		}
		if exists {
			continue
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
		for _, field := range []string{payloadTenantID, payloadDocID, payloadDepartment, payloadClassification, payloadChunkType} {
			_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: name,
				FieldName:      field,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			})
			if err != nil {
				return fmt.Errorf("failed to index %s.%s: %w", name, field, err)
			}
		}
	}
	return nil
}

// UpsertChildren writes child-chunk vectors. Dimensionality is rejected
// here, before anything reaches the index.
func (s *vectorStoreImpl) UpsertChildren(ctx context.Context, doc *models.Document, children []models.Chunk, embeddings [][]float32) error {
	if len(children) != len(embeddings) {
		return fmt.Errorf("%d chunks but %d embeddings", len(children), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, len(children))
	for i, chunk := range children {
		if len(embeddings[i]) != s.dimension {
			return fmt.Errorf("%w: chunk %s has dimension %d, want %d",
				models.ErrDimensionMismatch, chunk.ID, len(embeddings[i]), s.dimension)
		}
		payload := map[string]any{
			payloadTenantID:       doc.TenantID.String(),
			payloadDocID:          doc.ID.String(),
			payloadDepartment:     doc.Department,
			payloadClassification: string(doc.Classification),
			payloadChunkType:      string(models.ChunkTypeChild),
			payloadChunkIndex:     int64(chunk.ChunkIndex),
			payloadContent:        chunk.Content,
			payloadTitle:          doc.Title,
		}
		if chunk.ParentChunkID != nil {
			payload[payloadParentChunkID] = chunk.ParentChunkID.String()
		}
		if chunk.Page != nil {
			payload[payloadPage] = int64(*chunk.Page)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(chunk.ID.String()),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.childCollection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert children: %w", err)
	}
	return nil
}

// UpsertParents mirrors parent content into the parent collection with a
// zero-vector placeholder so both halves of the hierarchy live in the
// same store. Parents are never similarity-searched.
func (s *vectorStoreImpl) UpsertParents(ctx context.Context, doc *models.Document, parents []models.Chunk) error {
	if len(parents) == 0 {
		return nil
	}

	zero := make([]float32, s.dimension)
	points := make([]*qdrant.PointStruct, len(parents))
	for i, chunk := range parents {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(chunk.ID.String()),
			Vectors: qdrant.NewVectors(zero...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadTenantID:       doc.TenantID.String(),
				payloadDocID:          doc.ID.String(),
				payloadDepartment:     doc.Department,
				payloadClassification: string(doc.Classification),
				payloadChunkType:      string(models.ChunkTypeParent),
				payloadChunkIndex:     int64(chunk.ChunkIndex),
				payloadContent:        chunk.Content,
				payloadTitle:          doc.Title,
			}),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.parentCollection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert parents: %w", err)
	}
	return nil
}

// accessFilter builds the tenant predicate plus the disjunction of
// (department AND classification) conjunctions.
func accessFilter(tenantID uuid.UUID, filters []models.AccessPair) *qdrant.Filter {
	should := make([]*qdrant.Condition, len(filters))
	for i, pair := range filters {
		should[i] = &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(payloadDepartment, pair.Department),
						qdrant.NewMatch(payloadClassification, string(pair.Classification)),
					},
				},
			},
		}
	}
	return &qdrant.Filter{
		Must:   []*qdrant.Condition{qdrant.NewMatch(payloadTenantID, tenantID.String())},
		Should: should,
	}
}

func (s *vectorStoreImpl) Search(ctx context.Context, tenantID uuid.UUID, queryVec []float32, filters []models.AccessPair, k int, threshold float32) ([]services.VectorHit, error) {
	if len(filters) == 0 {
		// Fail closed: no predicates, no results.
		return nil, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.childCollection,
		Query:          qdrant.NewQuery(queryVec...),
		Filter:         accessFilter(tenantID, filters),
		Limit:          qdrant.PtrOf(uint64(k)),
		ScoreThreshold: qdrant.PtrOf(threshold),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]services.VectorHit, 0, len(points))
	for _, point := range points {
		hit, err := hitFromPoint(point)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// SearchWithParentExpansion over-fetches children, keeps each parent's
// best child score, and returns at most k parents ranked by that score.
func (s *vectorStoreImpl) SearchWithParentExpansion(ctx context.Context, tenantID uuid.UUID, queryVec []float32, filters []models.AccessPair, k int, threshold float32) ([]services.ParentHit, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	children, err := s.Search(ctx, tenantID, queryVec, filters, k*s.candidateFactor, threshold)
	if err != nil {
		return nil, err
	}

	return GroupByParent(children, k), nil
}

// GroupByParent aggregates child hits by parent, keeping the maximum
// child score per parent. Children without a parent (flat-ingested) are
// dropped: they have no wider context to expand into.
func GroupByParent(children []services.VectorHit, k int) []services.ParentHit {
	byParent := make(map[uuid.UUID]*services.ParentHit)
	var order []uuid.UUID
	for _, child := range children {
		if child.ParentChunkID == nil {
			continue
		}
		parentID := *child.ParentChunkID
		existing, ok := byParent[parentID]
		if !ok {
			byParent[parentID] = &services.ParentHit{
				ParentChunkID:  parentID,
				DocID:          child.DocID,
				BestChildScore: child.Score,
				ChildIndex:     child.ChunkIndex,
				Department:     child.Department,
				Classification: child.Classification,
				Title:          child.Title,
			}
			order = append(order, parentID)
			continue
		}
		if child.Score > existing.BestChildScore {
			existing.BestChildScore = child.Score
			existing.ChildIndex = child.ChunkIndex
		}
	}

	hits := make([]services.ParentHit, 0, len(byParent))
	for _, id := range order {
		hits = append(hits, *byParent[id])
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].BestChildScore > hits[j].BestChildScore
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// DeleteByDoc removes a document's points from both collections, used by
// ingestion compensation and document deletion.
func (s *vectorStoreImpl) DeleteByDoc(ctx context.Context, tenantID, docID uuid.UUID) error {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadTenantID, tenantID.String()),
			qdrant.NewMatch(payloadDocID, docID.String()),
		},
	}
	for _, collection := range []string{s.childCollection, s.parentCollection} {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
			Wait: qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("failed to delete doc %s from %s: %w", docID, collection, err)
		}
	}
	return nil
}

func hitFromPoint(point *qdrant.ScoredPoint) (services.VectorHit, error) {
	var hit services.VectorHit

	chunkID, err := uuid.Parse(point.GetId().GetUuid())
	if err != nil {
		return hit, fmt.Errorf("invalid chunk id in vector store: %w", err)
	}
	payload := point.GetPayload()

	docID, err := uuid.Parse(payload[payloadDocID].GetStringValue())
	if err != nil {
		return hit, fmt.Errorf("invalid doc id in payload: %w", err)
	}

	hit = services.VectorHit{
		ChunkID:        chunkID,
		DocID:          docID,
		ChunkIndex:     int(payload[payloadChunkIndex].GetIntegerValue()),
		Content:        payload[payloadContent].GetStringValue(),
		Score:          point.GetScore(),
		Department:     payload[payloadDepartment].GetStringValue(),
		Classification: models.Classification(payload[payloadClassification].GetStringValue()),
		Title:          payload[payloadTitle].GetStringValue(),
	}

	if raw := payload[payloadParentChunkID].GetStringValue(); raw != "" {
		parentID, err := uuid.Parse(raw)
		if err != nil {
			return hit, fmt.Errorf("invalid parent chunk id in payload: %w", err)
		}
		hit.ParentChunkID = &parentID
	}
	if pageVal, ok := payload[payloadPage]; ok {
		page := int(pageVal.GetIntegerValue())
		hit.Page = &page
	}
	return hit, nil
}
