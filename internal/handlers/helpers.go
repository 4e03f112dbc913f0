package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// regionParam resolves the ?region= query parameter against the configured
// regions, defaulting when only one region exists.
func regionParam(c echo.Context, regions []string) (string, error) {
	region := c.QueryParam("region")
	if region == "" && len(regions) == 1 {
		region = regions[0]
	}
	for _, known := range regions {
		if known == region {
			return region, nil
		}
	}
	return "", echo.NewHTTPError(http.StatusBadRequest, "unknown region")
}
