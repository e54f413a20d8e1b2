package scraper

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisibleText(t *testing.T) {
	html := `<html><head><style>.x{color:red}</style><script>var minimum = "stay 4 nights";</script></head>
<body><h1>Hotel  Adlon</h1>
<noscript>enable js</noscript>
<p>Minimum stay:
 2 nights</p>
<template><p>hidden</p></template></body></html>`

	got := VisibleText(html)
	assert.Equal(t, "Hotel Adlon Minimum stay: 2 nights", got)
	assert.NotContains(t, got, "4 nights")
}

func TestJitterStaysInRange(t *testing.T) {
	start := time.Now()
	require.NoError(t, Jitter(context.Background(), 5*time.Millisecond, 15*time.Millisecond))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
}

func TestJitterHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Jitter(ctx, time.Second, 2*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestJitterZeroIsNoop(t *testing.T) {
	assert.NoError(t, Jitter(context.Background(), 0, 0))
}

func TestDetectBotWall(t *testing.T) {
	bd := NewBotDetector()

	blocked, reason, score := bd.DetectBotWall("Please verify you are human before continuing.", "Just a moment")
	assert.True(t, blocked)
	assert.Contains(t, reason, "captcha")
	assert.Greater(t, score, 0.3)
	assert.Equal(t, "captcha", bd.BlockType("Please verify you are human", ""))

	long := strings.Repeat("Spacious rooms with city views and a rooftop terrace. ", 40)
	blocked, _, score = bd.DetectBotWall(long, "Hotel Adlon Kempinski Berlin")
	assert.False(t, blocked)
	assert.Zero(t, score)

	blocked, _, _ = bd.DetectBotWall(long+" This site is protected by reCAPTCHA.", "Hotel Adlon Kempinski Berlin")
	assert.False(t, blocked)
	blocked, _, _ = bd.DetectBotWall(long+" Captcha: please verify you are human.", "Hotel Adlon Kempinski Berlin")
	assert.True(t, blocked)

	blocked, _, _ = bd.DetectBotWall("403 Forbidden", "")
	assert.True(t, blocked)
	assert.Equal(t, "http_error", bd.BlockType("403 Forbidden", ""))
	assert.Equal(t, "bot_wall", bd.BlockType("Checking your browser", ""))
}
