package notification

import (
	"context"

	"cvesentinel.io/sentinel/internal/domain"
	apperrors "cvesentinel.io/sentinel/internal/pkg/errors"
)

// ChannelStats counts per-channel outcomes inside the window.
type ChannelStats struct {
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
	Suppressed int `json:"suppressed"`
}

// Stats aggregates delivery outcomes of recent records.
//
// Classification looks at external channels only. A record with no external
// attempt counts as delivered since its in-app record exists.
type Stats struct {
	Total              int                             `json:"total"`
	Delivered          int                             `json:"delivered"`
	PartiallyDelivered int                             `json:"partiallyDelivered"`
	Failed             int                             `json:"failed"`
	Pending            int                             `json:"pending"`
	Retryable          int                             `json:"retryable"`
	Misconfigured      int                             `json:"misconfigured"`
	MaxRetries         int                             `json:"maxRetries"`
	Window             string                          `json:"window"`
	Channels           map[domain.Channel]ChannelStats `json:"channels"`
}

// DeliveryStats is read-only; with no writes in between, two calls agree.
func (s *Service) DeliveryStats(ctx context.Context) (Stats, error) {
	now := s.now()
	st := Stats{
		MaxRetries: s.maxRetries,
		Window:     s.statsWindow.String(),
		Channels:   make(map[domain.Channel]ChannelStats, len(domain.ExternalChannels)),
	}
	for _, ch := range domain.ExternalChannels {
		st.Channels[ch] = ChannelStats{}
	}

	err := s.store.EachSince(ctx, now.Add(-s.statsWindow), func(n *domain.Notification) error {
		st.Total++
		switch n.Outcome() {
		case domain.OutcomeDelivered:
			st.Delivered++
		case domain.OutcomePartial:
			st.PartiallyDelivered++
		case domain.OutcomeFailed:
			st.Failed++
		default:
			st.Pending++
		}
		if len(n.RetryableChannels(s.maxRetries, now)) > 0 {
			st.Retryable++
		}
		if n.HasMisconfiguredChannel() {
			st.Misconfigured++
		}

		for _, d := range n.Deliveries {
			if d.Channel == domain.ChannelInApp {
				continue
			}
			cs := st.Channels[d.Channel]
			switch d.Status {
			case domain.DeliveryDelivered:
				cs.Delivered++
			case domain.DeliveryFailed:
				cs.Failed++
			}
			st.Channels[d.Channel] = cs
		}
		for _, ch := range n.Suppressed {
			cs := st.Channels[ch]
			cs.Suppressed++
			st.Channels[ch] = cs
		}
		return nil
	})
	if err != nil {
		return Stats{}, apperrors.Storage(err, "aggregate delivery stats")
	}
	return st, nil
}
