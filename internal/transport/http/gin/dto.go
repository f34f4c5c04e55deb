package httpgin

type HoldSeatRequest struct {
	HolderID int64 `json:"holder_id" binding:"required"`
}

type ReleaseSeatRequest struct {
	HolderID int64 `json:"holder_id" binding:"required"`
}

type ConfirmSeatsRequest struct {
	HolderID int64   `json:"holder_id" binding:"required"`
	SeatIDs  []int64 `json:"seat_ids" binding:"required,min=1,dive,required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HoldSeatResponse struct {
	EventID int64 `json:"event_id"`
	SeatID  int64 `json:"seat_id"`
}

type ConfirmSeatsResponse struct {
	BookingID string  `json:"booking_id"`
	SeatIDs   []int64 `json:"seat_ids"`
}

type OpenBookingResponse struct {
	EventID       int64 `json:"event_id"`
	SeatsInserted int64 `json:"seats_inserted"`
}
