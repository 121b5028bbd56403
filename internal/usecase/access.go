package usecase

import (
	"context"
	"time"

	"bordereau/internal/domain/bsd"
)

// OrgSignaturePolicy allows an actor that belongs to one of the authorized
// organizations, or holds the admin role.
type OrgSignaturePolicy struct{}

func (OrgSignaturePolicy) AllowSignature(_ context.Context, req SignatureRequest) (bool, error) {
	for _, role := range req.ActorRoles {
		if role == AdminRole {
			return true, nil
		}
	}
	for _, org := range req.ActorOrgs {
		for _, allowed := range req.AuthorizedOrgs {
			if org != "" && org == allowed {
				return true, nil
			}
		}
	}
	return false, nil
}

// requireMember fails unless actor is an admin or belongs to one of sirets.
func requireMember(actor Actor, sirets []string, action string) error {
	if actor.IsAdmin() {
		return nil
	}
	for _, siret := range sirets {
		if actor.BelongsTo(siret) {
			return nil
		}
	}
	return bsd.Forbidden("you must belong to one of the document companies to %s", action)
}

func documentMembers(doc bsd.Document, legs []bsd.Leg) []string {
	if doc.IsDraft && len(doc.CanAccessDraftOrgIDs) > 0 {
		return doc.CanAccessDraftOrgIDs
	}
	return doc.DraftAccessOrgIDs(legs)
}

// loadDocument returns a live document and its family rules.
func loadDocument(ctx context.Context, tx Tx, id string) (bsd.Document, bsd.FamilyRules, error) {
	doc, err := tx.Documents().Get(ctx, id)
	if err != nil {
		return bsd.Document{}, bsd.FamilyRules{}, err
	}
	if doc.IsDeleted {
		return bsd.Document{}, bsd.FamilyRules{}, bsd.NotFound("document", id)
	}
	rules, err := bsd.RulesFor(doc.Family)
	if err != nil {
		return bsd.Document{}, bsd.FamilyRules{}, err
	}
	return doc, rules, nil
}

func refreshStatus(doc *bsd.Document) error {
	rules, err := bsd.RulesFor(doc.Family)
	if err != nil {
		return err
	}
	status, err := bsd.ComputeStatus(*doc, rules)
	if err != nil {
		return err
	}
	doc.Status = status
	return nil
}

// saveDocument recomputes the status of after, persists it and appends one
// Updated event carrying the merge patch from before.
func saveDocument(ctx context.Context, tx Tx, before, after bsd.Document, actor Actor, now time.Time, metadata map[string]any) (bsd.Document, Effect, error) {
	if err := refreshStatus(&after); err != nil {
		return bsd.Document{}, Effect{}, err
	}
	after.UpdatedAt = now
	diff, err := documentDiff(before, after)
	if err != nil {
		return bsd.Document{}, Effect{}, err
	}
	saved, err := tx.Documents().Update(ctx, after)
	if err != nil {
		return bsd.Document{}, Effect{}, err
	}
	rec := documentEvent(saved, bsd.EventUpdated, actor, diff)
	for k, v := range metadata {
		rec.Metadata[k] = v
	}
	if err := appendEvent(ctx, tx, rec); err != nil {
		return bsd.Document{}, Effect{}, err
	}
	return saved, effectFor(EffectUpdated, saved), nil
}

var systemActor = Actor{ID: bsd.SystemActor, Type: "system"}
