// Visa reference-data HTTP handlers.
//
//   - GET /visa-config
//   - GET /visa-config/{country}
//   - GET /visa-config/{country}/{visaType}
//
// Codes are matched case-insensitively.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/visadata"
)

// VisaTypeView adds the list of required document types to a visa type.
type VisaTypeView struct {
	visadata.VisaType
	RequiredDocumentTypes []string `json:"requiredDocumentTypes"`
}

// CountryView is a country with its visa types.
type CountryView struct {
	Code      string         `json:"code"`
	Name      string         `json:"name"`
	Flag      string         `json:"flag"`
	VisaTypes []VisaTypeView `json:"visaTypes,omitempty"`
}

// VisaConfigResponse lists every supported country.
type VisaConfigResponse struct {
	Countries      []CountryView `json:"countries"`
	TotalCountries int           `json:"totalCountries"`
	TotalVisaTypes int           `json:"totalVisaTypes"`
}

// CountryResponse wraps a single country.
type CountryResponse struct {
	Country CountryView `json:"country"`
}

// VisaTypeResponse is a single visa type with its country.
type VisaTypeResponse struct {
	Country  CountryView       `json:"country"`
	VisaType visadata.VisaType `json:"visaType"`
}

func countryView(ct visadata.Country, withTypes bool) CountryView {
	v := CountryView{Code: ct.Code, Name: ct.Name, Flag: ct.Flag}
	if !withTypes {
		return v
	}
	v.VisaTypes = make([]VisaTypeView, 0, len(ct.VisaTypes))
	for _, vt := range ct.VisaTypes {
		types := make([]string, 0, len(vt.RequiredDocuments))
		for _, d := range vt.RequiredDocuments {
			types = append(types, d.Type)
		}
		v.VisaTypes = append(v.VisaTypes, VisaTypeView{VisaType: vt, RequiredDocumentTypes: types})
	}
	return v
}

// ListVisaConfig godoc
// @ID          listVisaConfig
// @Summary     Supported countries and visa types
// @Tags        VisaConfig
// @Produce     json
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.VisaConfigResponse}
// @Router      /visa-config [get]
func (h *Handlers) ListVisaConfig(c *gin.Context) {
	all := h.catalog.All()
	resp := VisaConfigResponse{Countries: make([]CountryView, 0, len(all)), TotalCountries: len(all)}
	for _, ct := range all {
		resp.Countries = append(resp.Countries, countryView(ct, true))
		resp.TotalVisaTypes += len(ct.VisaTypes)
	}
	ok(c, http.StatusOK, resp)
}

// GetCountryVisaConfig godoc
// @ID          getCountryVisaConfig
// @Summary     Visa types of a country
// @Tags        VisaConfig
// @Produce     json
// @Param       country  path  string  true  "Country code"  example(DE)
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.CountryResponse}
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /visa-config/{country} [get]
func (h *Handlers) GetCountryVisaConfig(c *gin.Context) {
	code := c.Param("country")
	ct, found := h.catalog.Country(code)
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("country with code '%s' not found", code))
		return
	}
	ok(c, http.StatusOK, CountryResponse{Country: countryView(ct, true)})
}

// GetVisaTypeConfig godoc
// @ID          getVisaTypeConfig
// @Summary     Visa type details
// @Tags        VisaConfig
// @Produce     json
// @Param       country   path  string  true  "Country code"    example(US)
// @Param       visaType  path  string  true  "Visa type code"  example(H1B)
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.VisaTypeResponse}
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /visa-config/{country}/{visaType} [get]
func (h *Handlers) GetVisaTypeConfig(c *gin.Context) {
	country, code := c.Param("country"), c.Param("visaType")
	ct, vt, found := h.catalog.VisaType(country, code)
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound,
			fmt.Sprintf("visa type '%s' not found for country '%s'", code, country))
		return
	}
	ok(c, http.StatusOK, VisaTypeResponse{Country: countryView(ct, false), VisaType: vt})
}
