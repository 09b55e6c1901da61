package model

// Starter returns the model written by `fairsim init`: two domains, three
// scenarios, enough to exercise every stage of a run before real data is
// filled in.
func Starter() *Model {
	return &Model{
		Description: "Starter model. Replace domains, capabilities and scenarios with your own.",
		Domains: []Domain{
			{ID: "ORG", Name: "Organizational"},
			{ID: "NET", Name: "Network"},
		},
		Capabilities: []Capability{
			{DomainID: "ORG", ID: "ORG-01", Name: "Security awareness training", Difficulty: 0.35},
			{DomainID: "ORG", ID: "ORG-02", Name: "Vendor risk management", Difficulty: 0.55},
			{DomainID: "NET", ID: "NET-01", Name: "Perimeter firewalling", Difficulty: 0.70},
			{DomainID: "NET", ID: "NET-02", Name: "Network segmentation", Difficulty: 0.60},
		},
		Scenarios: []Scenario{
			{
				DomainID:        "ORG",
				ID:              "ORG-S1",
				Description:     "Phishing leads to credential theft and fraudulent transfers.",
				ThreatCommunity: "Organized crime",
				TEF:             Dist{Func: FuncPERT, Min: 2, Mode: 6, Max: 20},
				TC:              Dist{Func: FuncPERT, Min: 0.2, Mode: 0.5, Max: 0.9},
				LM:              Dist{Func: FuncPERT, Min: 10_000, Mode: 75_000, Max: 1_500_000},
				Controls:        []ControlRef{{CapabilityID: "ORG-01"}},
			},
			{
				DomainID:        "ORG",
				ID:              "ORG-S2",
				Description:     "Compromised supplier exposes customer records.",
				ThreatCommunity: "Nation state",
				TEF:             Dist{Func: FuncTriangular, Min: 0, Mode: 0.5, Max: 3},
				TC:              Dist{Func: FuncPERT, Min: 0.5, Mode: 0.8, Max: 1},
				LM:              Dist{Func: FuncLogNormal, MeanLog: 13, SdLog: 1.2},
				Controls:        []ControlRef{{CapabilityID: "ORG-01"}, {CapabilityID: "ORG-02", Weight: 2}},
			},
			{
				DomainID:        "NET",
				ID:              "NET-S1",
				Description:     "Ransomware propagates from an exposed remote access service.",
				ThreatCommunity: "Organized crime",
				TEF:             Dist{Func: FuncPoisson, Mode: 4},
				TC:              Dist{Func: FuncUniform, Min: 0.3, Max: 0.95},
				LM:              Dist{Func: FuncPERT, Min: 50_000, Mode: 400_000, Max: 8_000_000, Shape: 3},
				Controls:        []ControlRef{{CapabilityID: "NET-01"}, {CapabilityID: "NET-02"}},
			},
		},
	}
}
