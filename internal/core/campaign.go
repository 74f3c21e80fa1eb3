package core

import "sort"

// CampaignView is a campaign row as presented on the dashboard, with the
// investment attributed to it from the month-wide cost per lead.
type CampaignView struct {
	Name       string  `json:"name"`
	Leads      int     `json:"leads"`
	Qualified  int     `json:"qualified"`
	Sales      int     `json:"sales"`
	Amount     float64 `json:"amount"`
	Investment float64 `json:"investment"`
	CPL        float64 `json:"cpl"`
	CPLC       float64 `json:"cplc"`
}

// DeriveCampaign attributes spend to a campaign. The CPL formula is kept as
// (L*cpl)/L rather than cpl so a campaign with no leads reports 0.
func DeriveCampaign(name string, s CampaignStats, cpl float64) CampaignView {
	investment := finite(float64(s.Leads) * cpl)
	v := CampaignView{
		Name:       name,
		Leads:      s.Leads,
		Qualified:  s.Qualified,
		Sales:      s.Sales,
		Amount:     s.Amount,
		Investment: investment,
	}
	if s.Leads > 0 {
		v.CPL = investment / float64(s.Leads)
	}
	if s.Qualified > 0 {
		v.CPLC = investment / float64(s.Qualified)
	}
	return v
}

// SortedCampaigns returns the campaign views ordered by amount, highest first.
func SortedCampaigns(m Metrics) []CampaignView {
	out := make([]CampaignView, 0, len(m.SalesByCampaign))
	for name, s := range m.SalesByCampaign {
		out = append(out, DeriveCampaign(name, s, m.CPL))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AdvisorView is an advisor ranking entry.
type AdvisorView struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// SortedAdvisors ranks advisors by sold amount.
func SortedAdvisors(m Metrics) []AdvisorView {
	out := make([]AdvisorView, 0, len(m.SalesByAdvisor))
	for name, s := range m.SalesByAdvisor {
		out = append(out, AdvisorView{Name: name, Count: s.Count, Amount: s.Amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SourceView is a contact source with its share of all leads.
type SourceView struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// SortedSources ranks contact sources by lead count.
func SortedSources(m Metrics) []SourceView {
	out := make([]SourceView, 0, len(m.LeadsBySource))
	for name, n := range m.LeadsBySource {
		out = append(out, SourceView{
			Name:  name,
			Count: n,
			Share: safeDiv(float64(n), float64(m.TotalLeads)) * 100,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
