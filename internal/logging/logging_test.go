package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONInProduction(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter("debug", "production", &buf)
	Component(l, "bus").Debug().Str("group", "42").Msg("published")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "bus", line["component"])
	require.Equal(t, "42", line["group"])
	require.Equal(t, "published", line["message"])
	require.Equal(t, "debug", line["level"])
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter("chatty", "production", &buf)
	require.Equal(t, zerolog.InfoLevel, l.GetLevel())

	l.Debug().Msg("hidden")
	require.Zero(t, buf.Len())
}

func TestNew_ConsoleInDevelopment(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter("info", "development", &buf)
	l.Info().Msg("hello")
	require.Contains(t, buf.String(), "hello")
	require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
