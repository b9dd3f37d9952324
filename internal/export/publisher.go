package export

import (
	"context"

	"campus-sync/internal/domain"
	"campus-sync/internal/ecs"
)

// Publisher is the broker-write surface UpdateECS needs. Narrow so tests
// can count calls without a broker.
type Publisher interface {
	CreateLink(ctx context.Context, link *domain.CourseLinkResource, mid int) (int, error)
	UpdateLink(ctx context.Context, id int, link *domain.CourseLinkResource, mid int) error
	DeleteLink(ctx context.Context, id int) error
}

// BrokerPublisher publishes course links through the connection client.
type BrokerPublisher struct {
	Client *ecs.Client
}

func (p *BrokerPublisher) CreateLink(ctx context.Context, link *domain.CourseLinkResource, mid int) (int, error) {
	return p.Client.CreateResource(ctx, link, ecs.Target{Participants: []int{mid}})
}

func (p *BrokerPublisher) UpdateLink(ctx context.Context, id int, link *domain.CourseLinkResource, mid int) error {
	return p.Client.UpdateResource(ctx, id, link, ecs.Target{Participants: []int{mid}})
}

func (p *BrokerPublisher) DeleteLink(ctx context.Context, id int) error {
	return p.Client.DeleteResource(ctx, id, domain.TypeCourseLink)
}
