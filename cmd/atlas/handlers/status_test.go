package handlers

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	atlastesting "github.com/imamik/atlas/internal/testing"
)

func TestStatus(t *testing.T) {
	fix := atlastesting.NewFixture(t)
	stubApp(t, fix)
	fix.TriggeredDeploy("v1.0.0")

	var out bytes.Buffer
	err := Status(context.Background(), StatusOptions{
		OrgID:       fix.Org.ID,
		DeployLimit: 5,
		Out:         &out,
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "node1")
	assert.Contains(t, text, "root@203.0.113.7")
	assert.Contains(t, text, "online")
	assert.Contains(t, text, "shop")
	assert.Contains(t, text, "shop.example.com")
	assert.Contains(t, text, "v1.0.0")
	assert.Contains(t, text, "pending")
}

func TestStatus_EmptyOrg(t *testing.T) {
	fix := atlastesting.NewFixture(t)
	stubApp(t, fix)

	var out bytes.Buffer
	err := Status(context.Background(), StatusOptions{
		OrgID:       999,
		DeployLimit: 5,
		Out:         &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "SERVER")
	assert.NotContains(t, out.String(), "node1")
}
