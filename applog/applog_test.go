package applog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeInstance(t *testing.T) {
	assert.Equal(t, "127.0.0.1_8642", sanitizeInstance("127.0.0.1:8642"))
	assert.Equal(t, "default", sanitizeInstance(""))
}

func TestAddContextFields(t *testing.T) {
	ctx := context.Background()

	ctx = AddContextFields(ctx, zap.String("matchId", "m-1"))
	fields := getContextFields(ctx)
	assert.Len(t, fields, 1)

	// Overriding matchId keeps a single field with the new value.
	ctx = AddContextFields(ctx, zap.String("matchId", "m-2"), zap.String("player", "bot1"))
	fields = getContextFields(ctx)
	assert.Len(t, fields, 2)

	for _, field := range fields {
		if field.Key == "matchId" {
			assert.Equal(t, "m-2", field.String)
		}
	}
}

func TestGetContextFieldsEmpty(t *testing.T) {
	assert.Nil(t, getContextFields(context.Background()))
}

func TestFromContext(t *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	setLogger(zap.New(core))

	ctx := AddContextFields(context.Background(), zap.String("matchId", "m-42"))
	FromContext(ctx).Info("session state changed")

	entries := observed.All()
	if len(entries) == 0 {
		t.Fatal("expected at least one log entry, got none")
	}

	found := false
	for _, field := range entries[0].Context {
		if field.Key == "matchId" && field.String == "m-42" {
			found = true
			break
		}
	}
	assert.True(t, found, "expected log entry to carry matchId from context")
}
