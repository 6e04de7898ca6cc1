package provider

import "strings"

const handleSeparator = ":"

// ParseHandle splits "address:password:refresh_token:client_id". Anything
// after the fourth separator stays part of the client id.
func ParseHandle(handle string) (Handle, error) {
	parts := strings.SplitN(strings.TrimSpace(handle), handleSeparator, 4)
	if len(parts) < 4 {
		return Handle{}, ErrInvalidHandle
	}
	for _, p := range parts {
		if p == "" {
			return Handle{}, ErrInvalidHandle
		}
	}

	return Handle{
		Address:      parts[0],
		Password:     parts[1],
		RefreshToken: parts[2],
		ClientID:     parts[3],
	}, nil
}

// AddressOf returns the mailbox address of handle, or handle itself when it
// cannot be parsed.
func AddressOf(handle string) string {
	h, err := ParseHandle(handle)
	if err != nil {
		return handle
	}
	return h.Address
}
