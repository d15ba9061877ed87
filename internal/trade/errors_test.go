package trade

import (
	"errors"
	"fmt"
	"testing"
)

func TestExplain(t *testing.T) {
	wrapped := fmt.Errorf("%w: %w", ErrExecutionFailed, errors.New("disk I/O error"))
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: fmt.Errorf("%w: 7", ErrNotOwner), want: "这个球不属于你。"},
		{err: wrapped, want: "交换提交失败，涉及的球保持锁定，请联系管理员处理。"},
		{err: ErrSessionExpired, want: "这场交易已超时并被取消。"},
		{err: errors.New("boom"), want: "操作失败，请稍后重试。"},
	}
	for _, tc := range tests {
		if got := Explain(tc.err); got != tc.want {
			t.Errorf("Explain(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
