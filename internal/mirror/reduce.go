package mirror

import "github.com/mirrorctl/mirrorrank/internal/pool"

// Reduce folds the probe results of one mirror into a single record.
//
// Protocols that failed are dropped; the others keep the mirror's
// protocol order.  RespTime is the fastest successful probe.  If every
// protocol failed, the record has no protocols and the unreachable
// sentinel.  results may be in any order.
func Reduce(record pool.MirrorRecord, results []pool.ProbeResult) pool.MirrorRecord {
	byProtocol := make(map[string]pool.ProbeResult, len(results))
	for _, r := range results {
		byProtocol[r.Protocol] = r
	}

	reduced := record.Clone()
	reduced.Protocols = reduced.Protocols[:0]
	reduced.RespTime = pool.UnreachableRespTime

	for _, protocol := range record.Protocols {
		r, ok := byProtocol[protocol]
		if !ok || r.Failed() {
			continue
		}
		reduced.Protocols = append(reduced.Protocols, protocol)
		if r.RespTime < reduced.RespTime {
			reduced.RespTime = r.RespTime
		}
	}
	return reduced
}
