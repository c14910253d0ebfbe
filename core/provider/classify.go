package provider

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"StreamResolve/model"
)

// 解析源返回的状态字符串
const (
	StatusOK            = "OK"
	StatusLoginRequired = "LOGIN_REQUIRED"
	StatusUnplayable    = "UNPLAYABLE"
)

// ClassifyStatus 把解析源状态字符串映射为结果分类，未知字符串一律 Unknown
func ClassifyStatus(status string) model.Status {
	switch status {
	case StatusOK:
		return model.StatusOk
	case StatusLoginRequired:
		return model.StatusLoginRequired
	case StatusUnplayable:
		return model.StatusUnplayable
	default:
		return model.StatusUnknown
	}
}

// ClassifyTransport 归类一次网络调用的错误。
// 调用方 ctx 已取消时返回 ctx.Err()；连接失败归为 NoInternet，超时归为 Timeout；
// 其他错误原样返回。
func ClassifyTransport(parent context.Context, err error) (model.Status, error) {
	if parent != nil && parent.Err() != nil {
		return model.StatusUnknown, parent.Err()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return model.StatusTimeout, nil
		}
		return model.StatusNoInternet, nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.StatusTimeout, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.StatusTimeout, nil
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return model.StatusNoInternet, nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return model.StatusNoInternet, nil
	}

	return model.StatusUnknown, err
}

// statusFromMessage 备用解析源没有状态字段，只能从错误文案推断
func statusFromMessage(msg string) string {
	if strings.TrimSpace(msg) == "" {
		return StatusOK
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, StatusLoginRequired),
		strings.Contains(lower, "sign in"),
		strings.Contains(lower, "login required"):
		return StatusLoginRequired
	case strings.Contains(msg, StatusUnplayable),
		strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "not available"):
		return StatusUnplayable
	}
	return strings.TrimSpace(msg)
}
