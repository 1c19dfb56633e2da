package feedsync

import (
	"encoding/json"
	"errors"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ClientAuth identifies a client to the relay. The jwt is issued and
// verified by the platform api; the relay only needs the stable user
// identity inside it to bind the connection.
type ClientAuth struct {
	ByJwt      string
	AppVersion string
}

func (self *ClientAuth) UserId() (Id, error) {
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return Id{}, err
	}
	return byJwt.UserId, nil
}

type ByJwt struct {
	UserId   Id
	UserName string
}

// the jwt signature is checked by the platform api on every rest call.
// here the claims are only used to label the connection.
func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}

	if userIdStr, ok := claims["user_id"]; ok {
		if userId, err := ParseId(userIdStr.(string)); err == nil {
			byJwt.UserId = userId
		}
	}
	if userName, ok := claims["user_name"]; ok {
		byJwt.UserName = userName.(string)
	}

	if (byJwt.UserId == Id{}) {
		return nil, errors.New("jwt missing user_id claim")
	}

	return byJwt, nil
}

// authFrame is the first frame on a new websocket, client to relay.
// the relay echoes the frame bytes back as the auth ack.
type authFrame struct {
	ByJwt      string `json:"by_jwt"`
	AppVersion string `json:"app_version,omitempty"`
}

func EncodeAuthFrame(auth *ClientAuth) ([]byte, error) {
	return json.Marshal(&authFrame{
		ByJwt:      auth.ByJwt,
		AppVersion: auth.AppVersion,
	})
}

func DecodeAuthFrame(frame []byte) (*ClientAuth, error) {
	authFrame := &authFrame{}
	if err := json.Unmarshal(frame, authFrame); err != nil {
		return nil, err
	}
	if authFrame.ByJwt == "" {
		return nil, errors.New("auth frame missing by_jwt")
	}
	return &ClientAuth{
		ByJwt:      authFrame.ByJwt,
		AppVersion: authFrame.AppVersion,
	}, nil
}
