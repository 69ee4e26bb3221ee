package cim

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSupplierGLN = "5790000000005"
	testDataHubGLN  = "5790001330583"
	testGSRN        = "571313180400000028"
)

func fixedBuilder() *Builder {
	n := 0
	return NewBuilder(
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 10, 30, 15, 123, time.UTC) }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func decodeRoot(t *testing.T, payload []byte, root string) map[string]any {
	t.Helper()
	var top map[string]any
	require.NoError(t, json.Unmarshal(payload, &top))
	require.Len(t, top, 1)
	header, ok := top[root].(map[string]any)
	require.True(t, ok, "missing root %s", root)
	return header
}

func TestBuildEnvelopeShape(t *testing.T) {
	b := fixedBuilder()
	env, err := b.Build(RequestChangeOfSupplier, ProcessTypeChangeOfSupplier,
		Party{GLN: testSupplierGLN, Role: RoleBalanceSupplier},
		Party{GLN: testDataHubGLN, Role: RoleMeteringPointOperator},
		[]Transaction{{"marketEvaluationPoint.mRID": GSRN(testGSRN)}},
	)
	require.NoError(t, err)
	assert.Equal(t, "id-1", env.DocumentID)
	assert.Equal(t, []string{"id-2"}, env.TransactionIDs)

	header := decodeRoot(t, env.Payload, "RequestChangeOfSupplier_MarketDocument")
	assert.Equal(t, "id-1", header["mRID"])
	assert.Equal(t, map[string]any{"value": "392"}, header["type"])
	assert.Equal(t, map[string]any{"value": "E03"}, header["process.processType"])
	assert.Equal(t, map[string]any{"value": "23"}, header["businessSector.type"])
	assert.Equal(t, map[string]any{"codingScheme": "A10", "value": testSupplierGLN}, header["sender_MarketParticipant.mRID"])
	assert.Equal(t, map[string]any{"value": "DDQ"}, header["sender_MarketParticipant.marketRole.type"])
	assert.Equal(t, map[string]any{"codingScheme": "A10", "value": testDataHubGLN}, header["receiver_MarketParticipant.mRID"])
	assert.Equal(t, "2024-03-01T10:30:15Z", header["createdDateTime"])

	records, ok := header["MktActivityRecord"].([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	record := records[0].(map[string]any)
	assert.Equal(t, "id-2", record["mRID"])
	assert.Equal(t, map[string]any{"codingScheme": "A10", "value": testGSRN}, record["marketEvaluationPoint.mRID"])
}

func TestBuildOmitsTransactionArrayWhenEmpty(t *testing.T) {
	env, err := fixedBuilder().Build(NotifyValidatedMeasureData, ProcessTypeMeteredData,
		Party{GLN: testSupplierGLN}, Party{GLN: testDataHubGLN}, nil)
	require.NoError(t, err)

	header := decodeRoot(t, env.Payload, "NotifyValidatedMeasureData_MarketDocument")
	_, hasSeries := header["Series"]
	assert.False(t, hasSeries)
	_, hasRole := header["sender_MarketParticipant.marketRole.type"]
	assert.False(t, hasRole)
	assert.Empty(t, env.TransactionIDs)
}

func TestBuildOmitsNullFields(t *testing.T) {
	var missingName *string
	var missingStop *time.Time
	env, err := fixedBuilder().Build(RequestChangeOfSupplier, "",
		Party{GLN: testSupplierGLN}, Party{GLN: testDataHubGLN},
		[]Transaction{{
			"marketEvaluationPoint.mRID":      GSRN(testGSRN),
			"customer_MarketParticipant.name": missingName,
			"end_DateAndOrTime.dateTime":      missingStop,
			"start_DateAndOrTime.dateTime":    time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
			"description":                     nil,
			"usagePointLocation": map[string]any{
				"mainAddress": map[string]any{"postalCode": nil, "townDetail.name": "Aarhus"},
			},
		}},
	)
	require.NoError(t, err)
	assert.NotContains(t, string(env.Payload), "null")
	assert.NotContains(t, string(env.Payload), "customer_MarketParticipant.name")
	assert.NotContains(t, string(env.Payload), "end_DateAndOrTime")
	assert.NotContains(t, string(env.Payload), "description")
	assert.NotContains(t, string(env.Payload), "postalCode")
	assert.NotContains(t, string(env.Payload), "process.processType")
	assert.Contains(t, string(env.Payload), `"start_DateAndOrTime.dateTime":"2024-04-01T00:00:00Z"`)
}

func TestBuildValidatesParties(t *testing.T) {
	_, err := Build(RequestChangeOfSupplier, ProcessTypeChangeOfSupplier, Party{GLN: "123"}, Party{GLN: testDataHubGLN}, nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = Build(DocumentKind{}, "", Party{GLN: testSupplierGLN}, Party{GLN: testDataHubGLN}, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
