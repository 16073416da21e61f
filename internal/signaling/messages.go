package signaling

import "github.com/stano45/streamcompositor/internal/view"

// The following implement view.Sink, one method per spec.md §6 client-
// bound message.

func (c *Client) AddLayer(cfg view.LayerConfigMsg) {
	c.send("addLayer", cfg)
}

func (c *Client) UpdateLayer(layerID, encodedDataURL string, meta any) {
	c.send("updateLayer", struct {
		LayerID string `json:"layer_id"`
		Encoded string `json:"encoded_data_url"`
		Meta    any    `json:"metadata"`
	}{layerID, encodedDataURL, meta})
}

func (c *Client) RemoveLayer(layerID string) {
	c.send("removeLayer", struct {
		LayerID string `json:"layer_id"`
	}{layerID})
}

func (c *Client) SetLayerMask(layerID, maskDataURL string) {
	c.send("setLayerMask", struct {
		LayerID string `json:"layer_id"`
		Mask    string `json:"mask_data_url"`
	}{layerID, maskDataURL})
}

func (c *Client) SetupWebRTCLayer(layerID string, offer any, zIndex int, name string) {
	c.send("setupWebRTCLayer", struct {
		LayerID string `json:"layer_id"`
		Offer   any    `json:"offer"`
		ZIndex  int    `json:"z_index"`
		Name    string `json:"name"`
	}{layerID, offer, zIndex, name})
}

func (c *Client) RemoveWebRTCLayer(layerID string) {
	c.send("removeWebRTCLayer", struct {
		LayerID string `json:"layer_id"`
	}{layerID})
}

// SetSize sends the setSize client-bound message.
func (c *Client) SetSize(width, height int) {
	c.send("setSize", struct {
		Width, Height int
	}{width, height})
}

// SetZoom sends the setZoom client-bound message.
func (c *Client) SetZoom(zoom float64, cx, cy *float64) {
	c.send("setZoom", struct {
		Zoom float64  `json:"zoom"`
		CX   *float64 `json:"cx,omitempty"`
		CY   *float64 `json:"cy,omitempty"`
	}{zoom, cx, cy})
}

// ResetZoom sends the resetZoom client-bound message.
func (c *Client) ResetZoom() { c.send("resetZoom", struct{}{}) }

// UpdateSvg sends the updateSvg client-bound message.
func (c *Client) UpdateSvg(renderedSvg string) {
	c.send("updateSvg", struct {
		Svg string `json:"rendered_svg"`
	}{renderedSvg})
}

var _ view.Sink = (*Client)(nil)
