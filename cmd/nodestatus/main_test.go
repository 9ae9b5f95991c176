package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"nodestatus/internal/config"
	"nodestatus/internal/model"
)

func TestAppGraph(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	require.NoError(t, fx.ValidateApp(appOptions(cfg, zap.NewNop())))
}

func TestNewServices_NoAnalytics(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Analytics.DBPath = ""
	svc := newServices(cfg, newRunner(), nil, zap.NewNop())
	assert.Nil(t, svc.profit)
	assert.NotNil(t, svc.composer)
}

func TestPrintForwards(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printForwards(&buf, model.AggregationReport{
		WindowDays:   30,
		TotalEvents:  4,
		TotalFeesSat: 6,
		Top: []model.PeerAggregate{
			{Alias: "A", FeesSat: 5, Events: 2},
			{Alias: "B", FeesSat: 1, Events: 1},
		},
		Low: []model.PeerAggregate{
			{Alias: "B", FeesSat: 1, Events: 1},
			{Alias: "A", FeesSat: 5, Events: 2},
		},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 9)
	assert.Equal(t, "4 forwards over 30 days, 6 sat earned", lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "TOP"))
	assert.Equal(t, []string{"1", "A", "5", "0", "2"}, strings.Fields(lines[3]))
	assert.True(t, strings.HasPrefix(lines[6], "LOW"))
	assert.Equal(t, []string{"1", "B", "1", "0", "1"}, strings.Fields(lines[7]))
}
