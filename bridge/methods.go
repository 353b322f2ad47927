package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/session"
)

type method func(ctx context.Context, args json.RawMessage) (any, error)

type startScanArgs struct {
	Prefix string `json:"prefix"`
}

type connectArgs struct {
	DeviceID  string `json:"deviceId"`
	Secret    string `json:"secret"`
	TimeoutMs int64  `json:"timeoutMs"`
}

type provisionArgs struct {
	DeviceID   string `json:"deviceId"`
	Proof      string `json:"proof"`
	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase"`
}

type renameArgs struct {
	NewName string `json:"newName"`
}

func (s *Server) methods() map[string]method {
	return map[string]method{
		"startScan": func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs[startScanArgs](raw)
			if err != nil {
				return nil, err
			}
			return nil, s.session.StartScan(ctx, args.Prefix)
		},
		"stopScan": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return nil, s.session.StopScan(ctx)
		},
		"connect": func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs[connectArgs](raw)
			if err != nil {
				return nil, err
			}
			if args.TimeoutMs < 0 {
				return nil, device.Errorf(device.CodeInvalidArguments, "timeoutMs must not be negative")
			}
			res, err := s.session.Connect(ctx, args.DeviceID, args.Secret, time.Duration(args.TimeoutMs)*time.Millisecond)
			return await(ctx, res, err)
		},
		"disconnect": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return nil, s.session.Disconnect(ctx)
		},
		"scanWifiNetworks": func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs[provisionArgs](raw)
			if err != nil {
				return nil, err
			}
			res, err := s.session.ScanWifiNetworks(ctx, args.DeviceID, args.Proof)
			return await(ctx, res, err)
		},
		"provisionWifi": func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs[provisionArgs](raw)
			if err != nil {
				return nil, err
			}
			res, err := s.session.ProvisionWifi(ctx, args.DeviceID, args.Proof, args.SSID, args.Passphrase)
			return await(ctx, res, err)
		},
		"changeDeviceName": func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decodeArgs[renameArgs](raw)
			if err != nil {
				return nil, err
			}
			res, err := s.session.ChangeDeviceName(ctx, args.NewName)
			return await(ctx, res, err)
		},
		"listDevices": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.session.Devices(ctx)
		},
	}
}

// call runs one request and builds its reply.
func (s *Server) call(ctx context.Context, req Request) Reply {
	reply := Reply{ID: req.ID}
	fn, ok := s.handlers[req.Method]
	if !ok {
		reply.Error = errorPayload(device.Errorf(device.CodeNotImplemented, "unknown method %q", req.Method))
		return reply
	}
	result, err := fn(ctx, req.Args)
	if err != nil {
		reply.Error = errorPayload(err)
		return reply
	}
	if result == nil {
		result = true
	}
	reply.Result = result
	return reply
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var args T
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, device.Wrap(device.CodeInvalidArguments, "malformed arguments", err)
	}
	return args, nil
}

// await turns an accepted asynchronous call into its eventual value.
func await[T any](ctx context.Context, res *session.Result[T], err error) (any, error) {
	if err != nil {
		return nil, err
	}
	v, err := res.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}
