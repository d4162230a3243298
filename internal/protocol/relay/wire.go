package relay

const (
	methodPublish      = "irn_publish"
	methodSubscribe    = "irn_subscribe"
	methodUnsubscribe  = "irn_unsubscribe"
	methodSubscription = "irn_subscription"
)

type publishParams struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
	TTL     int64  `json:"ttl"`
}

type subscribeParams struct {
	Topic string `json:"topic"`
}

type unsubscribeParams struct {
	Topic string `json:"topic"`
	ID    string `json:"id"`
}

type subscriptionData struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

type subscriptionParams struct {
	ID   string           `json:"id"`
	Data subscriptionData `json:"data"`
}
