package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"pkt.systems/tabrotor/httpapi"
	"pkt.systems/tabrotor/internal/appconfig"
)

var errServerUnavailable = errors.New("server unavailable")

// sendCommand posts a command envelope to a running server. It returns
// errServerUnavailable when nothing accepts the connection.
func sendCommand(ctx context.Context, cfg appconfig.HTTPConfig, envelope map[string]any) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	target := httpapi.Config{Addr: cfg.Addr, BasePath: cfg.BasePath}.URL("/api/command")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w: %v", errServerUnavailable, err)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var failure struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &failure) == nil && failure.Error != "" {
		return fmt.Errorf("server rejected command: %s", failure.Error)
	}
	return fmt.Errorf("server rejected command: %s", resp.Status)
}
