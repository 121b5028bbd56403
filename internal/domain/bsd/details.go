package bsd

import (
	"encoding/json"
	"fmt"
)

// Details holds the fields specific to one document family. The set of
// implementations is closed.
type Details interface {
	Family() Family
	isDetails()
}

type BsddEmitterType string

const (
	BsddEmitterProducer  BsddEmitterType = "PRODUCER"
	BsddEmitterOther     BsddEmitterType = "OTHER"
	BsddEmitterAppendix1 BsddEmitterType = "APPENDIX1"
	BsddEmitterAppendix2 BsddEmitterType = "APPENDIX2"
)

type BsddDetails struct {
	EmitterType      BsddEmitterType `json:"emitterType,omitempty"`
	RecipientCap     string          `json:"recipientCap,omitempty"`
	IsTempStorage    bool            `json:"isTempStorage,omitempty"`
	WasteConsistence string          `json:"wasteConsistence,omitempty"`
	CustomInfo       string          `json:"customInfo,omitempty"`
}

func (*BsddDetails) Family() Family { return FamilyBSDD }
func (*BsddDetails) isDetails()     {}

type BsdaType string

const (
	BsdaTypeOther          BsdaType = "OTHER_COLLECTIONS"
	BsdaTypeCollection2710 BsdaType = "COLLECTION_2710"
	BsdaTypeGathering      BsdaType = "GATHERING"
	BsdaTypeReshipment     BsdaType = "RESHIPMENT"
)

type BsdaDetails struct {
	Type                 BsdaType `json:"type,omitempty"`
	WorkerIsDisabled     bool     `json:"workerIsDisabled,omitempty"`
	WorkerCertification  string   `json:"workerCertification,omitempty"`
	WasteMaterialName    string   `json:"wasteMaterialName,omitempty"`
	WasteSealNumbers     []string `json:"wasteSealNumbers,omitempty"`
	DestinationCap       string   `json:"destinationCap,omitempty"`
	DestinationNextSiret string   `json:"destinationNextSiret,omitempty"`
	DestinationNextCap   string   `json:"destinationNextCap,omitempty"`
}

func (*BsdaDetails) Family() Family { return FamilyBSDA }
func (*BsdaDetails) isDetails()     {}

type BsdasriType string

const (
	BsdasriTypeSimple    BsdasriType = "SIMPLE"
	BsdasriTypeGrouping  BsdasriType = "GROUPING"
	BsdasriTypeSynthesis BsdasriType = "SYNTHESIS"
)

type BsdasriDetails struct {
	Type              BsdasriType `json:"type,omitempty"`
	WasteAdr          string      `json:"wasteAdr,omitempty"`
	EmitterPickupSite string      `json:"emitterPickupSite,omitempty"`
}

func (*BsdasriDetails) Family() Family { return FamilyBSDASRI }
func (*BsdasriDetails) isDetails()     {}

type BsvhuDetails struct {
	IdentificationType    string   `json:"identificationType,omitempty"`
	IdentificationNumbers []string `json:"identificationNumbers,omitempty"`
	Packaging             string   `json:"packaging,omitempty"`
	DestinationAgrement   string   `json:"destinationAgrement,omitempty"`
}

func (*BsvhuDetails) Family() Family { return FamilyBSVHU }
func (*BsvhuDetails) isDetails()     {}

type BsffType string

const (
	BsffTypeCollectePetitesQuantites BsffType = "COLLECTE_PETITES_QUANTITES"
	BsffTypeTracerFluide             BsffType = "TRACER_FLUIDE"
	BsffTypeGroupement               BsffType = "GROUPEMENT"
	BsffTypeReconditionnement        BsffType = "RECONDITIONNEMENT"
	BsffTypeReexpedition             BsffType = "REEXPEDITION"
)

type BsffDetails struct {
	Type                     BsffType `json:"type,omitempty"`
	FicheInterventionNumbers []string `json:"ficheInterventionNumbers,omitempty"`
}

func (*BsffDetails) Family() Family { return FamilyBSFF }
func (*BsffDetails) isDetails()     {}

// NewDetails returns the empty details value for a family.
func NewDetails(family Family) (Details, error) {
	switch family {
	case FamilyBSDD:
		return &BsddDetails{}, nil
	case FamilyBSDA:
		return &BsdaDetails{Type: BsdaTypeOther}, nil
	case FamilyBSDASRI:
		return &BsdasriDetails{Type: BsdasriTypeSimple}, nil
	case FamilyBSVHU:
		return &BsvhuDetails{}, nil
	case FamilyBSFF:
		return &BsffDetails{Type: BsffTypeCollectePetitesQuantites}, nil
	}
	return nil, Validation("unknown document family %q", family)
}

func MarshalDetails(d Details) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// UnmarshalDetails decodes raw into the details type of family.
func UnmarshalDetails(family Family, raw []byte) (Details, error) {
	d, err := NewDetails(family)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, fmt.Errorf("decode %s details: %w", family, err)
	}
	return d, nil
}

func cloneDetails(d Details) Details {
	if d == nil {
		return nil
	}
	raw, err := MarshalDetails(d)
	if err != nil {
		return d
	}
	out, err := UnmarshalDetails(d.Family(), raw)
	if err != nil {
		return d
	}
	return out
}
