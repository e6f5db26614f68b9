package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/tenantbilling/internal/catalog/domain"
)

type productView struct {
	catalogdomain.Product
	YearlyDiscount string `json:"yearly_discount,omitempty"`
}

// ListProducts serves the public pricing table.
func (s *Server) ListProducts(c *gin.Context) {
	var query struct {
		Currency string   `form:"currency"`
		IDs      []string `form:"id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	products, err := s.catalog.ListProducts(c.Request.Context(), catalogdomain.ListFilter{
		PublicOnly: true,
		ActiveOnly: true,
		IDs:        query.IDs,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	currency := s.currency(query.Currency)
	views := make([]productView, 0, len(products))
	for i := range products {
		views = append(views, newProductView(&products[i], currency))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetProduct(c *gin.Context) {
	product, err := s.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newProductView(product, s.currency(c.Query("currency")))})
}

func (s *Server) currency(requested string) string {
	if currency := strings.ToLower(strings.TrimSpace(requested)); currency != "" {
		return currency
	}
	if s.billing == nil {
		return ""
	}
	return s.billing.Get().DefaultCurrency
}

func newProductView(product *catalogdomain.Product, currency string) productView {
	view := productView{Product: *product}
	monthly, okMonthly := product.FlatPriceFor(currency, catalogdomain.BillingPeriodMonthly)
	yearly, okYearly := product.FlatPriceFor(currency, catalogdomain.BillingPeriodYearly)
	if okMonthly && okYearly {
		view.YearlyDiscount = catalogdomain.YearlyDiscount(monthly.Amount, yearly.Amount)
	}
	return view
}
