package export

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
	"campus-sync/internal/local"
	"campus-sync/internal/store"
)

// URLAggregator publishes one course_urls resource per imported CMS course,
// listing the public URL of every real local course standing for it. The
// owning CMS reads these back to link its students straight into campus.
type URLAggregator struct {
	Store  *store.Store
	Local  local.Platform
	Client *ecs.Client

	// ServerID scopes the pass to one broker connection; CMSMID is the
	// participant the aggregated resources are addressed to.
	ServerID int
	CMSMID   int

	// AuthURLs appends a single-use broker auth token to each URL so the
	// CMS can hand out links that log the student in.
	AuthURLs bool
}

// RefreshResult counts what one reconciliation pass did.
type RefreshResult struct {
	Created int
	Updated int
	Deleted int
}

// Refresh reconciles three sides: the live local courses, the recorded
// publications, and what the broker actually holds for this connection.
// Courses without a live broker resource get one created (including
// records whose resource vanished out-of-band), drifted resources get
// updated, and broker resources no record claims get deleted along with
// records whose course is gone.
func (a *URLAggregator) Refresh(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult

	published, err := a.Store.CourseURLs(a.ServerID)
	if err != nil {
		return res, err
	}
	byCourse := make(map[string]domain.CourseURLRecord, len(published))
	for _, r := range published {
		byCourse[r.CMSCourseID] = r
	}

	sentIDs, err := a.Client.ListResourceIDs(ctx, domain.TypeCourseURL, ecs.DirSent)
	if err != nil {
		return res, err
	}
	onBroker := make(map[int]bool, len(sentIDs))
	for _, id := range sentIDs {
		onBroker[id] = true
	}
	claimed := map[int]bool{}

	courseIDs, err := a.liveCourseIDs()
	if err != nil {
		return res, err
	}

	for _, cmsID := range courseIDs {
		urls, err := a.currentURLs(ctx, cmsID)
		if err != nil {
			return res, err
		}
		if len(urls) == 0 {
			continue
		}
		prev, ok := byCourse[cmsID]
		delete(byCourse, cmsID)

		if !ok || prev.ResourceID == 0 || !onBroker[prev.ResourceID] {
			// Never published, or the resource was deleted behind our
			// back: publish fresh.
			id, err := a.Client.CreateResource(ctx, payload(cmsID, urls), a.target())
			if err != nil {
				return res, err
			}
			if err := a.Store.UpsertCourseURL(domain.CourseURLRecord{
				ServerID: a.ServerID, CMSCourseID: cmsID, ResourceID: id, URLs: urls,
			}); err != nil {
				return res, err
			}
			claimed[id] = true
			res.Created++
			continue
		}
		claimed[prev.ResourceID] = true
		if urlsEqual(prev.URLs, urls) {
			continue
		}
		if err := a.Client.UpdateResource(ctx, prev.ResourceID, payload(cmsID, urls), a.target()); err != nil {
			return res, err
		}
		prev.URLs = urls
		if err := a.Store.UpsertCourseURL(prev); err != nil {
			return res, err
		}
		res.Updated++
	}

	// Records left over were published for a course that no longer exists.
	for cmsID, r := range byCourse {
		if r.ResourceID != 0 && onBroker[r.ResourceID] {
			claimed[r.ResourceID] = true
			if err := a.Client.DeleteResource(ctx, r.ResourceID, domain.TypeCourseURL); err != nil {
				if !ecs.IsProtocol(err) {
					return res, err
				}
				log.Printf("WARN: export: course_urls %d already gone from broker", r.ResourceID)
			}
		}
		if err := a.Store.DeleteCourseURL(a.ServerID, cmsID); err != nil {
			return res, err
		}
		res.Deleted++
	}

	// Broker resources no record claims: strays from a failed earlier run
	// or out-of-band writes.
	for _, id := range sentIDs {
		if claimed[id] {
			continue
		}
		if err := a.Client.DeleteResource(ctx, id, domain.TypeCourseURL); err != nil {
			if !ecs.IsProtocol(err) {
				return res, err
			}
			log.Printf("WARN: export: stray course_urls %d already gone from broker", id)
		}
		res.Deleted++
	}
	return res, nil
}

func (a *URLAggregator) liveCourseIDs() ([]string, error) {
	courses, err := a.Store.Courses(a.ServerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(courses))
	for _, c := range courses {
		ids = append(ids, c.CMSCourseID)
	}
	sort.Strings(ids)
	return ids, nil
}

// currentURLs collects local course id -> URL for every real local course
// of one CMS course.
func (a *URLAggregator) currentURLs(ctx context.Context, cmsID string) (map[int64]string, error) {
	locals, err := a.Store.LocalCoursesByCMSID(cmsID)
	if err != nil {
		return nil, err
	}
	urls := make(map[int64]string)
	for _, lc := range locals {
		if !lc.Real {
			continue
		}
		u := a.Local.Courses.ViewURL(lc.LocalID)
		if a.AuthURLs {
			if u, err = a.authenticated(ctx, u); err != nil {
				return nil, err
			}
		}
		urls[lc.LocalID] = u
	}
	return urls, nil
}

// authenticated wraps a URL with a single-use broker auth token so the
// receiving side can assert where the visitor came from.
func (a *URLAggregator) authenticated(ctx context.Context, rawURL string) (string, error) {
	realm := sha1.Sum([]byte(uuid.NewString() + rawURL))
	tok, err := a.Client.RequestAuthToken(ctx, hex.EncodeToString(realm[:]), rawURL, a.CMSMID)
	if err != nil {
		return "", err
	}
	sep := "?"
	for _, c := range rawURL {
		if c == '?' {
			sep = "&"
			break
		}
	}
	return fmt.Sprintf("%s%secs_hash=%s", rawURL, sep, tok.Hash), nil
}

func (a *URLAggregator) target() ecs.Target {
	return ecs.Target{Participants: []int{a.CMSMID}}
}

func payload(cmsID string, urls map[int64]string) *domain.CourseURLResource {
	ids := make([]int64, 0, len(urls))
	for id := range urls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := &domain.CourseURLResource{CMSCourseID: cmsID}
	for _, id := range ids {
		out.URLs = append(out.URLs, domain.CourseURL{URL: urls[id]})
	}
	if len(out.URLs) > 0 {
		out.ECSCourseURL = out.URLs[0].URL
	}
	return out
}

func urlsEqual(a, b map[int64]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
