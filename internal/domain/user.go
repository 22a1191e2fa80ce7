package domain

import "strings"

// User is the messaging view of a marketplace account.
type User struct {
	ID       string   `bson:"_id,omitempty" json:"id,omitempty"`
	Username string   `bson:"username" json:"username"`
	Unread   []string `bson:"unread" json:"unread"`
	Chats    []string `bson:"chats" json:"chats"`
}

func (u *User) HasChat(id string) bool { return contains(u.Chats, id) }

func (u *User) HasUnread(id string) bool { return contains(u.Unread, id) }

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// SameUser compares usernames the way the directory does.
func SameUser(a, b string) bool { return strings.EqualFold(a, b) }
