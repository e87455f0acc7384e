package main

import (
	"fmt"

	"mini-dubbo/message"
)

const demoInterface = "org.apache.dubbo.demo.DemoService"

type demoService struct{}

func (demoService) SayHello(ctx *message.Context, name string) (string, error) {
	return fmt.Sprintf("Hello %s, response from provider: %s", name, ctx.Request.Attachment("remote.application", "unknown")), nil
}

func (demoService) Echo(ctx *message.Context, v any) (any, error) {
	return v, nil
}
