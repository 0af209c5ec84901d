package main

import (
	"context"
	"fmt"
	"net/http"

	gojson "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/ak42/llamacpu/internal/logger"
)

// fastJSONSerializer swaps echo's default encoding/json-based serializer
// for goccy/go-json, which the debug endpoints use for every response.
type fastJSONSerializer struct{}

func (fastJSONSerializer) Serialize(c *echo.Context, i interface{}, indent string) error {
	enc := gojson.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (fastJSONSerializer) Deserialize(c *echo.Context, i interface{}) error {
	err := gojson.NewDecoder(c.Request().Body).Decode(i)
	if ute, ok := err.(*gojson.UnmarshalTypeError); ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unmarshal type error: expected=%v, got=%v, field=%v, offset=%v", ute.Type, ute.Value, ute.Field, ute.Offset)).SetInternal(err)
	}
	if se, ok := err.(*gojson.SyntaxError); ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("syntax error: offset=%v, error=%v", se.Offset, se.Error())).SetInternal(err)
	}
	return err
}

// debugServer exposes liveness and the most recent generation stats over
// HTTP, for operators running llamacpu as a long-lived chat process.
type debugServer struct {
	addr string
	rt   *runtime
	log  logger.Logger
	e    *echo.Echo
}

func newDebugServer(addr string, rt *runtime, log logger.Logger) *debugServer {
	e := echo.New()
	e.JSONSerializer = fastJSONSerializer{}
	s := &debugServer{addr: addr, rt: rt, log: log, e: e}

	e.GET("/healthz", func(c *echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
	e.GET("/debug/stats", func(c *echo.Context) error {
		return c.JSON(200, map[string]any{
			"tokens_generated": rt.stats.TokensGenerated,
			"tps":              rt.stats.TPS,
			"duration_ms":      rt.stats.Duration.Milliseconds(),
			"vocab_size":       rt.cfg.VocabSize,
			"seq_length":       rt.cfg.SeqLength,
		})
	})
	return s
}

func (s *debugServer) start() error {
	sc := echo.StartConfig{Address: s.addr}
	s.log.Info("starting debug server", "address", s.addr)
	return sc.Start(context.Background(), s.e)
}
