package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contexthq/memory-engine/pkg/services"
)

func TestExplain_RequiresSessionID(t *testing.T) {
	h := NewExplainHandler(&stubExplainService{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/explain/", nil)
	rec := httptest.NewRecorder()
	h.Explain(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_id is required")
}

func TestExplain_RejectsBadMemoryID(t *testing.T) {
	h := NewExplainHandler(&stubExplainService{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/explain/?session_id=s1&memory_id=zero", nil)
	rec := httptest.NewRecorder()
	h.Explain(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "memory_id must be a positive integer")
}

func TestExplain_PassesThroughExplanation(t *testing.T) {
	svc := &stubExplainService{explanation: &services.Explanation{
		Explanation:   "traced sources",
		MemorySources: []services.MemorySource{{MemoryID: 9, Kind: "semantic", Text: "fact"}},
		DomainSources: []services.DomainSource{{EntityName: "Kai Media", Table: "customers"}},
	}}
	h := NewExplainHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/explain/?session_id=s1&memory_id=9", nil)
	rec := httptest.NewRecorder()
	h.Explain(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", svc.gotSessionID)
	assert.Equal(t, int64(9), svc.gotMemoryID)

	var body services.Explanation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "traced sources", body.Explanation)
	require.Len(t, body.MemorySources, 1)
	assert.Equal(t, int64(9), body.MemorySources[0].MemoryID)
	require.Len(t, body.DomainSources, 1)
	assert.Equal(t, "customers", body.DomainSources[0].Table)
}
