// Package participants resolves who we exchange resources with on one
// broker connection. The directory is built once per sync pass and handed
// into the reconcilers, never cached process-wide.
package participants

import (
	"context"
	"fmt"
	"log"
	"sort"

	"campus-sync/internal/config"
	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
	"campus-sync/internal/store"
)

// Directory is the community/participant graph of one connection merged
// with the locally configured flags.
type Directory struct {
	ServerID    int
	Communities []domain.Community

	byMID map[int]domain.Participant
	self  int // our own mid on this connection, 0 when unknown
}

// Fetch pulls the membership list from the broker and refreshes the local
// cache. On a transport failure the cached graph from the previous pass is
// used, so import decisions keep working while the broker is down.
func Fetch(ctx context.Context, client *ecs.Client, st *store.Store, serverID int, settings *config.Settings) (*Directory, error) {
	entries, err := client.Memberships(ctx)
	if err != nil {
		if !ecs.IsTransport(err) {
			return nil, err
		}
		log.Printf("WARN: memberships fetch failed, using cached graph: %v", err)
		return fromCache(st, serverID, settings)
	}

	d := &Directory{ServerID: serverID, byMID: map[int]domain.Participant{}}
	var cached []store.CachedParticipant
	for _, e := range entries {
		com := domain.Community{ID: e.Community.CID, Name: e.Community.Name}
		for _, p := range e.Participants {
			part := domain.Participant{
				MID:    p.MID,
				Name:   p.Name,
				Org:    p.Org.Name,
				Domain: p.DNS,
				Email:  p.Email,
				ItsYou: p.ItsYou,
			}
			applyFlags(&part, settings.Flags(p.MID))
			if p.ItsYou {
				d.self = p.MID
			}
			com.Participants = append(com.Participants, part)
			d.byMID[p.MID] = part
			cached = append(cached, store.CachedParticipant{
				ServerID: serverID, Community: e.Community.Name, P: part,
			})
		}
		d.Communities = append(d.Communities, com)
	}

	if err := st.ReplaceParticipants(serverID, cached); err != nil {
		return nil, fmt.Errorf("participants: cache refresh: %w", err)
	}
	return d, nil
}

func fromCache(st *store.Store, serverID int, settings *config.Settings) (*Directory, error) {
	rows, err := st.Participants(serverID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("participants: broker unreachable and cache empty for connection %d", serverID)
	}

	d := &Directory{ServerID: serverID, byMID: map[int]domain.Participant{}}
	coms := map[string]*domain.Community{}
	for _, r := range rows {
		p := r.P
		applyFlags(&p, settings.Flags(p.MID))
		if p.ItsYou {
			d.self = p.MID
		}
		d.byMID[p.MID] = p
		if coms[r.Community] == nil {
			coms[r.Community] = &domain.Community{Name: r.Community}
		}
		coms[r.Community].Participants = append(coms[r.Community].Participants, p)
	}
	names := make([]string, 0, len(coms))
	for n := range coms {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		d.Communities = append(d.Communities, *coms[n])
	}
	return d, nil
}

func applyFlags(p *domain.Participant, f config.ParticipantFlags) {
	p.Import = f.Import
	p.Export = f.Export
	p.IsCMS = f.CMS
	p.IdentityField = f.IdentityField
}

// Participant looks one participant up by mid.
func (d *Directory) Participant(mid int) (domain.Participant, bool) {
	p, ok := d.byMID[mid]
	return p, ok
}

// CMS returns the participant designated as the authoritative campus
// management system, if one is configured and visible.
func (d *Directory) CMS() (domain.Participant, bool) {
	for _, p := range d.byMID {
		if p.IsCMS {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// ImportAllowed reports whether resources sent by mid may be imported.
func (d *Directory) ImportAllowed(mid int) bool {
	p, ok := d.byMID[mid]
	return ok && p.Import
}

// ExportTargets lists participants local courses may be exported to,
// ordered by mid.
func (d *Directory) ExportTargets() []domain.Participant {
	var out []domain.Participant
	for _, p := range d.byMID {
		if p.Export && !p.ItsYou {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MID < out[j].MID })
	return out
}

// SelfMID is our own participant id on this connection.
func (d *Directory) SelfMID() int { return d.self }
