package history

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/w1temp/internal/history"
)

func TestPrint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := history.Open(history.MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	at := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, s.Add(ctx, history.Record{Time: at, Celsius: 23.456, ROM: "2800000000000001"}))
	require.NoError(t, s.Add(ctx, history.Record{Time: at.Add(time.Minute), Celsius: -1.5, ROM: "2800000000000001"}))

	var buf bytes.Buffer
	require.NoError(t, Print(ctx, &buf, s, 1))
	expect := at.Add(time.Minute).Local().Format(time.RFC3339) + " 2800000000000001 -1.50 C\n"
	assert.Equal(t, expect, buf.String())

	assert.Error(t, Print(ctx, &buf, nil, 1))
}
