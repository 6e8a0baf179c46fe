package impl

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/sentinel-rag/sentinel/models"
	"github.com/sentinel-rag/sentinel/services"
)

// rbacResolverImpl translates a user's (department, role) grants into the
// (department, classification) pairs the access matrix allows. The matrix
// is provisioned at startup and never mutated, so resolution is pure:
// same grants in, same pairs out.
type rbacResolverImpl struct {
	store  services.MetadataStore
	matrix models.AccessMatrix
}

func NewRBACResolver(store services.MetadataStore, matrix models.AccessMatrix) services.RBACResolver {
	return &rbacResolverImpl{store: store, matrix: matrix}
}

func (r *rbacResolverImpl) FiltersFor(ctx context.Context, tenantID, userID uuid.UUID) ([]models.AccessPair, error) {
	grants, err := r.store.GetUserAccessPairs(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read access grants: %w", err)
	}
	if len(grants) == 0 {
		// Zero grants resolves to the empty set; the retrieval
		// coordinator treats that as deny-all.
		return nil, nil
	}

	seen := make(map[models.AccessPair]struct{})
	var pairs []models.AccessPair
	for _, grant := range grants {
		for _, classification := range models.Classifications() {
			if !r.matrix.Allows(classification, grant.Department, grant.Role) {
				continue
			}
			pair := models.AccessPair{
				Department:     grant.Department,
				Classification: classification,
			}
			if _, ok := seen[pair]; ok {
				continue
			}
			seen[pair] = struct{}{}
			pairs = append(pairs, pair)
		}
	}

	// Deterministic order keeps repeated resolutions identical.
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Department != pairs[j].Department {
			return pairs[i].Department < pairs[j].Department
		}
		return pairs[i].Classification < pairs[j].Classification
	})

	return pairs, nil
}
