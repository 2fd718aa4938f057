package domain

import "time"

// Author identifies who wrote a comment.
type Author struct {
	UID  string
	Name string
	Role UserRole
}

// SystemAuthor signs comments generated by the workflow itself.
var SystemAuthor = Author{UID: "system", Name: "System", Role: "system"}

// Comment is an immutable entry in a ticket thread.
type Comment struct {
	ID         string
	TicketID   string
	Text       string
	Author     Author
	IsRequest  bool
	IsResponse bool
	CreatedAt  time.Time
}
