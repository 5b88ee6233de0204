package intake

import (
	"context"
	"time"

	"go.uber.org/zap"

	"booking-engine/internal/model"
)

type TransitionInput struct {
	To            model.Status `json:"status"`
	ProposedStart *time.Time   `json:"proposed_start"`
	ProposedEnd   *time.Time   `json:"proposed_end"`
}

// Transition moves a request through the status machine and stamps the milestone
// timestamps that metrics read.
func (s *Service) Transition(ctx context.Context, businessID, requestID string, in TransitionInput) (model.BookingRequest, error) {
	if !in.To.Valid() {
		return model.BookingRequest{}, model.Validation("unknown status %q", in.To)
	}
	if in.To == model.StatusProposed {
		if in.ProposedStart == nil || in.ProposedEnd == nil || !in.ProposedEnd.After(*in.ProposedStart) {
			return model.BookingRequest{}, model.Validation("a proposal needs proposed_start before proposed_end")
		}
	}

	var out model.BookingRequest
	err := s.store.Atomically(ctx, businessID, func(ctx context.Context) error {
		r, err := s.store.GetRequest(ctx, businessID, requestID)
		if err != nil {
			return model.Upstream("load booking request", err)
		}
		now := s.opts.Now().UTC()
		if !model.CanTransition(r.Status, in.To) {
			return &model.Error{Code: model.CodeInvalidTransition, Message: string(r.Status) + " -> " + string(in.To)}
		}
		if r.Status == model.StatusProposed && in.To == model.StatusApproved &&
			r.ProposalExpiresAt != nil && !now.Before(*r.ProposalExpiresAt) {
			return &model.Error{Code: model.CodeInvalidTransition, Message: "proposal has lapsed"}
		}

		from := r.Status
		if r.FirstRespondedAt == nil && from == model.StatusRequested {
			r.FirstRespondedAt = &now
		}
		if from.Terminal() {
			r.ReactivatedAt = &now
		}
		switch in.To {
		case model.StatusApproved:
			r.ApprovedAt = &now
			r.ProposalExpiresAt = nil
		case model.StatusCancelled:
			r.CancelledAt = &now
		case model.StatusProposed:
			start, end := in.ProposedStart.UTC(), in.ProposedEnd.UTC()
			expires := now.Add(s.opts.ProposalTTL)
			r.ProposedStart, r.ProposedEnd, r.ProposalExpiresAt = &start, &end, &expires
		}
		r.Status = in.To
		r.UpdatedAt = now

		if err := s.store.UpdateRequest(ctx, &r); err != nil {
			return model.Upstream("update booking request", err)
		}
		s.logger.Info("booking request status changed",
			zap.String("business_id", businessID),
			zap.String("request_id", r.ID),
			zap.String("from", string(from)),
			zap.String("to", string(in.To)))
		out = r
		return nil
	})
	return out, err
}
