package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shouni/bfl-image-kit/pkg/domain"
)

// DereferenceSeed は、int64のポインタを安全にデリファレンスします。
// ポインタがnilの場合は0を返します。
func DereferenceSeed(seed *int64) int64 {
	if seed == nil {
		return 0
	}
	return *seed
}

// SeedLabel はファイル名に使う seed 表記です。
// プロバイダーが返した seed を優先し、無ければ指定 seed、どちらも無ければ "random" です。
func SeedLabel(apiSeed, userSeed *int64) string {
	if s := DereferenceSeed(apiSeed); s > 0 {
		return strconv.FormatInt(s, 10)
	}
	if s := DereferenceSeed(userSeed); s > 0 {
		return strconv.FormatInt(s, 10)
	}
	return "random"
}

// UsedSeed returns the seed to report for a finished job, or nil when unknown.
func UsedSeed(apiSeed, userSeed *int64) *int64 {
	if DereferenceSeed(apiSeed) > 0 {
		return apiSeed
	}
	if DereferenceSeed(userSeed) > 0 {
		return userSeed
	}
	return nil
}

// ArtifactName は保存ファイル名 bfl_{model}_{seed}_{unix ms}.{ext} を組み立てます。
func ArtifactName(model string, apiSeed, userSeed *int64, format domain.OutputFormat, now time.Time) string {
	m := strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(model)
	return fmt.Sprintf("bfl_%s_%s_%d.%s", m, SeedLabel(apiSeed, userSeed), now.UnixMilli(), format.Ext())
}
