// Package search implements bounded-time profile search: an SQL-level
// wildcard/bbox prefilter over the hosted and (optionally) neighbor
// repositories, followed by an in-memory haversine distance check and
// a time-budgeted extra-data regex match, with per-session paging of
// any overflow past max_response_record_count.
//
// Follows a bounded-iteration idiom paired with a context-deadline
// pattern, here applied to a query loop instead of a listener accept
// loop.
package search

import (
	"context"
	"regexp"
	"time"

	"profileserver/internal/blobstore"
	"profileserver/internal/config"
	"profileserver/internal/obslog"
	"profileserver/internal/protoerr"
	"profileserver/internal/registry"
	"profileserver/internal/session"
	"profileserver/internal/store"
	"profileserver/internal/wire"
)

// Handlers holds the collaborators ProfileSearch/ProfileSearchPart
// need.
type Handlers struct {
	Store    *store.Store
	Blobs    *blobstore.Store
	Clients  *registry.ClientRegistry
	Config   *config.Config
	ServerID string
}

// New builds a Handlers bound to its collaborators.
func New(st *store.Store, blobs *blobstore.Store, clients *registry.ClientRegistry, cfg *config.Config, serverID string) *Handlers {
	return &Handlers{Store: st, Blobs: blobs, Clients: clients, Config: cfg, ServerID: serverID}
}

// regexBudget tracks the total and per-record time spent evaluating
// an extra-data regex; a match that overruns either budget counts as
// a non-match rather than aborting the search.
type regexBudget struct {
	totalBudget     time.Duration
	perRecordBudget time.Duration
	spent           time.Duration
}

func (b *regexBudget) match(re *regexp.Regexp, s string) bool {
	if b.spent >= b.totalBudget {
		return false
	}
	start := time.Now()
	matched := re.MatchString(s)
	elapsed := time.Since(start)
	b.spent += elapsed
	if elapsed > b.perRecordBudget {
		return false
	}
	return matched
}

// ProfileSearch runs the bounded hosted-then-neighbor search
// described in the package doc, caching any overflow for
// ProfileSearchPart to page through.
func (h *Handlers) ProfileSearch(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.ProfileSearchRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed ProfileSearchRequest")
	}

	if field, ok := checkLimits(body.MaxResponseRecordCount, body.MaxTotalRecordCount, body.IncludeThumbnailImages); !ok {
		return protoerr.Fail(protoerr.InvalidValue, field)
	}

	var re *regexp.Regexp
	if body.ExtraDataRegex != "" {
		compiled, err := regexp.Compile(body.ExtraDataRegex)
		if err != nil {
			return protoerr.Fail(protoerr.InvalidValue, "extraDataRegex")
		}
		re = compiled
	}

	deadline := time.Now().Add(time.Duration(h.Config.SearchWallClockBudgetMillis) * time.Millisecond)
	budget := &regexBudget{
		totalBudget:     time.Duration(h.Config.SearchRegexTotalBudgetMillis) * time.Millisecond,
		perRecordBudget: time.Duration(h.Config.SearchRegexPerRecordBudgetMillis) * time.Millisecond,
	}

	nameLike := likePattern(body.NameWildcard)
	typeLike := likePattern(body.TypeWildcard)
	hasBBox := body.HasCenter && body.RadiusMeters > 0
	var minLat, maxLat, minLon, maxLon float64
	if hasBBox {
		minLat, maxLat, minLon, maxLon = boundingBox(body.Lat, body.Lon, body.RadiusMeters)
	}

	var matched []wire.ProfileInfo

	offset := 0
	for len(matched) < body.MaxTotalRecordCount && time.Now().Before(deadline) {
		remaining := body.MaxTotalRecordCount - len(matched)
		rows, err := h.Store.SearchHostedIdentities(ctx, nameLike, typeLike, minLat, maxLat, minLon, maxLon, hasBBox, offset, batchSize(remaining))
		if err != nil {
			obslog.L().Errorw("profile search: hosted query", "err", err)
			return protoerr.InternalError()
		}
		if len(rows) == 0 {
			break
		}
		offset += len(rows)
		for i := range rows {
			if time.Now().After(deadline) {
				break
			}
			row := &rows[i]
			if body.HasCenter && haversineMeters(body.Lat, body.Lon, row.Lat, row.Lon) > body.RadiusMeters {
				continue
			}
			if re != nil && !budget.match(re, row.ExtraData) {
				continue
			}
			_, online := h.Clients.Get(row.IdentityID)
			matched = append(matched, h.hostedToProfileInfo(row, online, body.IncludeThumbnailImages))
			if len(matched) >= body.MaxTotalRecordCount {
				break
			}
		}
	}

	queriedNeighbors := false
	if !body.IncludeHostedOnly && len(matched) < body.MaxTotalRecordCount && time.Now().Before(deadline) {
		queriedNeighbors = true
		noffset := 0
		for len(matched) < body.MaxTotalRecordCount && time.Now().Before(deadline) {
			remaining := body.MaxTotalRecordCount - len(matched)
			rows, err := h.Store.SearchNeighborIdentities(ctx, nameLike, typeLike, minLat, maxLat, minLon, maxLon, hasBBox, noffset, batchSize(remaining))
			if err != nil {
				obslog.L().Errorw("profile search: neighbor query", "err", err)
				return protoerr.InternalError()
			}
			if len(rows) == 0 {
				break
			}
			noffset += len(rows)
			for i := range rows {
				if time.Now().After(deadline) {
					break
				}
				row := &rows[i]
				if body.HasCenter && haversineMeters(body.Lat, body.Lon, row.Lat, row.Lon) > body.RadiusMeters {
					continue
				}
				if re != nil && !budget.match(re, row.ExtraData) {
					continue
				}
				_, online := h.Clients.Get(row.IdentityID)
				matched = append(matched, h.neighborToProfileInfo(row, online, body.IncludeThumbnailImages))
				if len(matched) >= body.MaxTotalRecordCount {
					break
				}
			}
		}
	}

	covered := []string{h.ServerID}
	if queriedNeighbors {
		ids, err := h.Store.DistinctNeighborIDs(ctx)
		if err != nil {
			obslog.L().Errorw("profile search: covered nodes", "err", err)
		} else {
			covered = append(covered, ids...)
		}
	}

	total := len(matched)
	respRecords := matched
	if total > body.MaxResponseRecordCount {
		sess.SetSearchCache(&session.SearchCache{Records: matched, CreatedAt: time.Now()})
		respRecords = matched[:body.MaxResponseRecordCount]
	}

	return protoerr.OK(wire.ProfileSearchResponse{
		Records:      respRecords,
		TotalMatched: total,
		CoveredNodes: covered,
	})
}

// ProfileSearchPart retrieves a slice of the session's most recent
// search cache.
func (h *Handlers) ProfileSearchPart(ctx context.Context, sess *session.Session, req *wire.Request) protoerr.Result {
	var body wire.ProfileSearchPartRequest
	if err := req.DecodeBody(&body); err != nil {
		return protoerr.FailClose(protoerr.ProtocolViolation, "malformed ProfileSearchPartRequest")
	}

	cache := sess.GetSearchCache()
	if cache == nil {
		return protoerr.Fail(protoerr.NotAvailable, "no search results cached")
	}
	if body.RecordIndex < 0 || body.RecordCount < 0 || body.RecordIndex >= len(cache.Records) {
		return protoerr.Fail(protoerr.InvalidValue, "recordIndex")
	}

	end := body.RecordIndex + body.RecordCount
	if end > len(cache.Records) {
		end = len(cache.Records)
	}
	return protoerr.OK(wire.ProfileSearchPartResponse{Records: cache.Records[body.RecordIndex:end]})
}

func (h *Handlers) hostedToProfileInfo(row *store.HostedIdentity, online, includeThumbnail bool) wire.ProfileInfo {
	info := wire.ProfileInfo{
		IdentityID:        row.IdentityID,
		PublicKey:         row.PublicKey,
		Version:           row.Semver,
		Name:              row.Name,
		Type:              row.Type,
		Lat:               row.Lat,
		Lon:               row.Lon,
		ExtraData:         row.ExtraData,
		HasProfileImage:   row.ProfileImageRef != "",
		HasThumbnailImage: row.ThumbnailImageRef != "",
		IsOnline:          online,
		HostingRedirectID: row.HostingRedirectID,
		Expired:           row.Expired(),
		HostingServerID:   h.ServerID,
	}
	if includeThumbnail && row.ThumbnailImageRef != "" {
		info.ThumbnailImageData = h.readThumbnail(row.ThumbnailImageRef)
	}
	return info
}

func (h *Handlers) neighborToProfileInfo(row *store.NeighborIdentity, online, includeThumbnail bool) wire.ProfileInfo {
	info := wire.ProfileInfo{
		IdentityID:        row.IdentityID,
		PublicKey:         row.PublicKey,
		Version:           row.Semver,
		Name:              row.Name,
		Type:              row.Type,
		Lat:               row.Lat,
		Lon:               row.Lon,
		ExtraData:         row.ExtraData,
		HasProfileImage:   row.ProfileImageRef != "",
		HasThumbnailImage: row.ThumbnailImageRef != "",
		IsOnline:          online,
		HostingServerID:   row.HostingServerID,
	}
	if includeThumbnail && row.ThumbnailImageRef != "" {
		info.ThumbnailImageData = h.readThumbnail(row.ThumbnailImageRef)
	}
	return info
}

func (h *Handlers) readThumbnail(ref string) []byte {
	if h.Blobs == nil {
		return nil
	}
	data, err := h.Blobs.Read(context.Background(), ref)
	if err != nil {
		obslog.L().Warnw("profile search: read thumbnail blob", "ref", ref, "err", err)
		return nil
	}
	return data
}
