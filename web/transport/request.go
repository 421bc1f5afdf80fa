package transport

// PaginationQuery is the common paging of list requests.
type PaginationQuery struct {
	Limit  int `form:"limit,default=20"`
	Offset int `form:"offset,default=0"`
}
