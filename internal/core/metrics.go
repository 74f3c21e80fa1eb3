// Package core holds the sales sheet model and the pure aggregation that
// turns a month of lead records into dashboard metrics.
package core

import "math"

// CampaignStats accumulates every lead of a campaign.
type CampaignStats struct {
	Leads     int     `json:"leads"`
	Qualified int     `json:"qualified"`
	Sales     int     `json:"sales"`
	Amount    float64 `json:"amount"`
}

// AdvisorStats accumulates the closed sales of an advisor.
type AdvisorStats struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// Metrics is the summary of one month of leads against a budget.
type Metrics struct {
	TotalSales     float64 `json:"totalSales"`
	TotalLeads     int     `json:"totalLeads"`
	QualifiedLeads int     `json:"qualifiedLeads"`
	Reservations   int     `json:"reservations"`
	SalesCount     int     `json:"salesCount"`

	ConversionRate float64 `json:"conversionRate"`
	BudgetProgress float64 `json:"budgetProgress"`
	CPL            float64 `json:"cpl"`
	CPLC           float64 `json:"cplc"`

	SalesByCampaign map[string]CampaignStats `json:"salesByCampaign"`
	SalesByAdvisor  map[string]AdvisorStats  `json:"salesByAdvisor"`
	LeadsBySource   map[string]int           `json:"leadsBySource"`
}

// Aggregate computes Metrics in a single pass over rows.
//
// Rows are expected to be campaign-filtered already (see FilterByCampaign);
// callers treat an empty filtered month as "no data" and do not aggregate it.
// Ratios with a zero divisor are 0, and so is any total or ratio that
// overflows to a non-finite value.
func Aggregate(rows []Row, budget float64) Metrics {
	m := Metrics{
		TotalLeads:      len(rows),
		SalesByCampaign: make(map[string]CampaignStats),
		SalesByAdvisor:  make(map[string]AdvisorStats),
		LeadsBySource:   make(map[string]int),
	}

	for _, row := range rows {
		sale := row.Flag(ColSale)
		qualified := row.Flag(ColQualified)
		amount := 0.0
		if sale {
			amount = row.Amount()
			m.SalesCount++
			m.TotalSales += amount
		}
		if qualified {
			m.QualifiedLeads++
		}
		if row.Flag(ColReserved) {
			m.Reservations++
		}

		campaign := row.Campaign()
		cs := m.SalesByCampaign[campaign]
		cs.Leads++
		if qualified {
			cs.Qualified++
		}
		if sale {
			cs.Sales++
			cs.Amount += amount
		}
		m.SalesByCampaign[campaign] = cs

		if sale {
			advisor := orDefault(row.Text(ColAdvisor), DefaultAdvisor)
			as := m.SalesByAdvisor[advisor]
			as.Count++
			as.Amount += amount
			m.SalesByAdvisor[advisor] = as
		}

		m.LeadsBySource[orDefault(row.Text(ColSource), DefaultSource)]++
	}

	leads := float64(m.TotalLeads)
	m.ConversionRate = safeDiv(float64(m.SalesCount), leads) * 100
	if budget > 0 {
		m.BudgetProgress = m.TotalSales / budget * 100
	}
	m.CPL = safeDiv(budget, leads)
	m.CPLC = safeDiv(budget, float64(m.QualifiedLeads))
	m.clampNonFinite()
	return m
}

func (m *Metrics) clampNonFinite() {
	m.TotalSales = finite(m.TotalSales)
	m.ConversionRate = finite(m.ConversionRate)
	m.BudgetProgress = finite(m.BudgetProgress)
	m.CPL = finite(m.CPL)
	m.CPLC = finite(m.CPLC)
	for name, cs := range m.SalesByCampaign {
		cs.Amount = finite(cs.Amount)
		m.SalesByCampaign[name] = cs
	}
	for name, as := range m.SalesByAdvisor {
		as.Amount = finite(as.Amount)
		m.SalesByAdvisor[name] = as
	}
}

// QualifiedShare is the percentage of leads that are qualified.
func (m Metrics) QualifiedShare() float64 {
	return safeDiv(float64(m.QualifiedLeads), float64(m.TotalLeads)) * 100
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return finite(a / b)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
