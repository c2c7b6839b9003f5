package handler

type StatusResponse struct {
	BlockHeader uint64 `json:"blockHeader"`
}

type HeightReader interface {
	Height() uint64
}

type StatusHandlerInterface interface {
	Handle() StatusResponse
}

type StatusHandler struct {
	heights HeightReader
}

func NewStatusHandler(heights HeightReader) *StatusHandler {
	return &StatusHandler{
		heights,
	}
}

func (h *StatusHandler) Handle() StatusResponse {
	return StatusResponse{
		BlockHeader: h.heights.Height(),
	}
}
