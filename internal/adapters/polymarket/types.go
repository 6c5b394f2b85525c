package polymarket

// types.go — payloads crudos de las APIs Gamma y CLOB.

// gammaSearchResponse es la respuesta de /public-search: eventos con mercados
// anidados más mercados sueltos de primer nivel.
type gammaSearchResponse struct {
	Events  []gammaEvent  `json:"events"`
	Markets []gammaMarket `json:"markets"`
}

type gammaEvent struct {
	Title     string        `json:"title"`
	StartDate string        `json:"startDate"`
	EndDate   string        `json:"endDate"`
	Markets   []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	Slug        string `json:"slug"`
	Question    string `json:"question"`
	Title       string `json:"title"`
	ConditionID string `json:"conditionId"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	// ClobTokenIds llega como string JSON: `["<up>","<down>"]`.
	ClobTokenIds string `json:"clobTokenIds"`
	// Outcomes llega como string JSON: `["Up","Down"]`.
	Outcomes string `json:"outcomes"`
	// OutcomePrices llega como string JSON: `["1","0"]` al resolver.
	OutcomePrices string `json:"outcomePrices"`
	Closed        bool   `json:"closed"`

	// Metadata del evento contenedor, inyectada al aplanar.
	eventTitle     string
	eventStartDate string
	eventEndDate   string
}

// pricesHistoryResponse es la respuesta de /prices-history del CLOB.
type pricesHistoryResponse struct {
	History []pricePoint `json:"history"`
}

type pricePoint struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// orderResponse es la respuesta de POST /order.
type orderResponse struct {
	OrderID string `json:"orderID"`
	Success bool   `json:"success"`
	Error   string `json:"errorMsg"`
}

// orderStatusResponse es la respuesta de GET /data/order/<id>.
type orderStatusResponse struct {
	Status       string `json:"status"`
	SizeMatched  string `json:"size_matched"`
	OriginalSize string `json:"original_size"`
	Price        string `json:"price"`
}
