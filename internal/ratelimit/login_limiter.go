// Package ratelimit はログイン試行のレート制限とアカウントロックアウトを提供する。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable はRedisが利用できない場合に返す。
// 認証系の呼び出し元はこのエラーをfail-closed（拒否）として扱う。
var ErrStoreUnavailable = errors.New("ratelimit: store unavailable")

// Decision は流入可否の判定結果。
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// allow は許可の判定結果を返す。
func allow() Decision {
	return Decision{Allowed: true}
}

// deny は再試行可能になるまでの時間付きで拒否の判定結果を返す。
func deny(retryAfter time.Duration) Decision {
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

// Config はLoginLimiterの設定。
type Config struct {
	// Threshold はロックアウトに至る失敗回数。
	Threshold int
	// Window は失敗回数を数える固定ウィンドウ長。
	Window time.Duration
	// LockoutDuration はロックアウトの継続時間。
	LockoutDuration time.Duration
	// SourceThreshold は送信元アドレスごとのウィンドウあたり許容リクエスト数。
	SourceThreshold int
}

// LoginLimiter はRedisのカウンタを使用したログイン試行の制限器。
// アカウント単位の失敗カウンタと送信元アドレス単位の流量カウンタを別々に持つ。
// カウンタの増分はRedisのINCRで行い、並行リクエスト間でアトミックに動作する。
type LoginLimiter struct {
	redis  redis.UniversalClient
	config Config
}

// NewLoginLimiter はLoginLimiterを生成する。
func NewLoginLimiter(redisClient redis.UniversalClient, config Config) *LoginLimiter {
	return &LoginLimiter{
		redis:  redisClient,
		config: config,
	}
}

// Admit はアカウントと送信元の両カウンタを確認し、流入可否を判定する。
// いずれかが閾値を超えていれば拒否する。送信元カウンタはこの呼び出しで増分する。
// Redisが利用できない場合はErrStoreUnavailableを返す。認証エンドポイントの
// 呼び出し元はこれを拒否として扱うこと（fail-closed）。
func (l *LoginLimiter) Admit(ctx context.Context, identityKey, sourceKey string) (Decision, error) {
	// ロックアウト中なら残り時間付きで拒否
	ttl, err := l.redis.TTL(ctx, lockKey(identityKey)).Result()
	if err != nil {
		return deny(0), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl > 0 {
		return deny(ttl), nil
	}

	// 失敗カウンタが閾値に達している場合も拒否（ロック鍵消失時の保険）
	count, err := l.getCounter(ctx, failKey(identityKey))
	if err != nil {
		return deny(0), err
	}
	if l.config.Threshold > 0 && count >= int64(l.config.Threshold) {
		windowTTL, err := l.redis.TTL(ctx, failKey(identityKey)).Result()
		if err != nil {
			return deny(0), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return deny(windowTTL), nil
	}

	// 送信元の流量カウンタを増分して確認
	if sourceKey != "" && l.config.SourceThreshold > 0 {
		srcCount, err := l.incrementWithTTL(ctx, srcKey(sourceKey), l.config.Window)
		if err != nil {
			return deny(0), err
		}
		if srcCount > int64(l.config.SourceThreshold) {
			srcTTL, err := l.redis.TTL(ctx, srcKey(sourceKey)).Result()
			if err != nil {
				return deny(0), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			return deny(srcTTL), nil
		}
	}

	return allow(), nil
}

// RecordFailure は認証失敗を記録し、ロックアウトに達したかどうかを返す。
// 閾値到達時にロック鍵を設定する。失敗カウンタはロックアウトが明けるまで
// リセットしない。
func (l *LoginLimiter) RecordFailure(ctx context.Context, identityKey string) (locked bool, retryAfter time.Duration, err error) {
	count, err := l.incrementWithTTL(ctx, failKey(identityKey), l.config.Window)
	if err != nil {
		return false, 0, err
	}

	if count >= int64(l.config.Threshold) {
		// ロックアウト期間中はカウンタも保持し続ける
		if err := l.redis.Set(ctx, lockKey(identityKey), 1, l.config.LockoutDuration).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err := l.redis.Expire(ctx, failKey(identityKey), l.config.LockoutDuration).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return true, l.config.LockoutDuration, nil
	}

	return false, 0, nil
}

// Reset は認証成功時にアカウントの失敗カウンタとロック鍵を消去する。
func (l *LoginLimiter) Reset(ctx context.Context, identityKey string) error {
	if err := l.redis.Del(ctx, failKey(identityKey), lockKey(identityKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// FailureCount は現在の失敗回数を返す。鍵が存在しない場合は0を返す。
func (l *LoginLimiter) FailureCount(ctx context.Context, identityKey string) (int, error) {
	count, err := l.getCounter(ctx, failKey(identityKey))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (l *LoginLimiter) getCounter(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// incrementWithTTL は固定ウィンドウ方式でカウンタを増分する。
// ウィンドウ内の最初の増分時のみTTLを設定する。
func (l *LoginLimiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return count, nil
}

func failKey(identityKey string) string {
	return "civicgate:login:fail:" + identityKey
}

func lockKey(identityKey string) string {
	return "civicgate:login:lock:" + identityKey
}

func srcKey(sourceKey string) string {
	return "civicgate:src:" + sourceKey
}
