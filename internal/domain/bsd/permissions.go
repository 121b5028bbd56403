package bsd

const (
	PermDocumentRead  = "bsd:read"
	PermDocumentWrite = "bsd:write"
	PermDocumentSign  = "bsd:sign"
	PermRevisionWrite = "revision:write"
)

// Principal is the authenticated caller as seen by the transport layer.
type Principal struct {
	Subject  string
	Orgs     []string
	Scopes   []string
	Roles    []string
	AuthType string
}

type Authorizer interface {
	Require(principal Principal, permission string) error
}

// AuthorizedSirets returns the organizations allowed to sign stage on doc.
// For transport, next is the leg about to sign.
func AuthorizedSirets(doc Document, stage Stage, next *Leg) []string {
	switch stage {
	case StageEmission:
		return uniqueSorted([]string{doc.Emitter.Siret, doc.EcoOrganisme.Siret})
	case StageWork:
		return uniqueSorted([]string{doc.Worker.Siret})
	case StageTransport:
		if next == nil {
			return nil
		}
		return uniqueSorted([]string{next.Company.Siret})
	case StageReception, StageOperation:
		return uniqueSorted([]string{doc.Destination.Siret})
	}
	return nil
}
