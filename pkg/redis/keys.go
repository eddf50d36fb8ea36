package redis

import "fmt"

// OrderLockKey 订单级互斥锁键名，保护 pay/refund 的读-改-写。
func OrderLockKey(orderID string) string {
	return fmt.Sprintf("order_ledger:lock:order:%s", orderID)
}

// AccountRateLimitKey 按账户限流的滑动窗口键名。
func AccountRateLimitKey(accountID string) string {
	return fmt.Sprintf("order_ledger:rate_limit:account:%s", accountID)
}

// IPRateLimitKey 无法识别账户时按 IP 降级限流。
func IPRateLimitKey(ip string) string {
	return fmt.Sprintf("order_ledger:rate_limit:ip:%s", ip)
}
